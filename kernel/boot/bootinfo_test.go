package boot

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDecodeMemoryDescriptor(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(7))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint64(0x10_0000))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint64(256))
	binary.Write(&buf, binary.LittleEndian, uint64(0))

	desc, err := DecodeMemoryDescriptor(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Type != MemoryDescriptorUsableType {
		t.Fatalf("type = %d, want usable", desc.Type)
	}
	if desc.PhysicalStart != 0x10_0000 || desc.NumberOfPages != 256 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
}

func TestDecodeMemoryDescriptorRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeMemoryDescriptor([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short buffer to be rejected")
	}
}

func TestUsableRangesFiltersReservedTypes(t *testing.T) {
	info := Info{
		MemoryDescriptors: []MemoryDescriptor{
			{Type: MemoryDescriptorUsableType, PhysicalStart: 0x1000, NumberOfPages: 10},
			{Type: 2, PhysicalStart: 0x2000, NumberOfPages: 5},
		},
	}
	ranges := info.UsableRanges()
	if len(ranges) != 1 || ranges[0][0] != 0x1000 || ranges[0][1] != 10 {
		t.Fatalf("unexpected usable ranges: %v", ranges)
	}
}
