// Package boot assembles the boot info record handed off by the bootloader,
// parses the initrd, and drives the kernel init sequence that wires PMM,
// VMM, heap, scheduler, AMC, and ADI together (spec §4.9).
package boot

import (
	"encoding/binary"

	"axle/kernel"
)

// MemoryDescriptorUsableType is the UEFI-style memory descriptor type that
// marks a range as available to the PMM (spec §6: "Type 7 = usable").
const MemoryDescriptorUsableType = 7

// MemoryDescriptor mirrors the bootloader handoff's per-range record
// exactly (spec §6), so a raw byte buffer from the (simulated) bootloader
// decodes without reinterpretation.
type MemoryDescriptor struct {
	Type          uint32
	Pad           uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

const memoryDescriptorSize = 4 + 4 + 8 + 8 + 8 + 8

// DecodeMemoryDescriptor parses one fixed-layout little-endian memory
// descriptor from buf (spec §6).
func DecodeMemoryDescriptor(buf []byte) (MemoryDescriptor, *kernel.Error) {
	if len(buf) < memoryDescriptorSize {
		return MemoryDescriptor{}, errShortBuffer
	}
	return MemoryDescriptor{
		Type:          binary.LittleEndian.Uint32(buf[0:4]),
		Pad:           binary.LittleEndian.Uint32(buf[4:8]),
		PhysicalStart: binary.LittleEndian.Uint64(buf[8:16]),
		VirtualStart:  binary.LittleEndian.Uint64(buf[16:24]),
		NumberOfPages: binary.LittleEndian.Uint64(buf[24:32]),
		Attribute:     binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}

var errShortBuffer = &kernel.Error{Module: "boot", Message: "buffer too short for expected record"}

// Framebuffer describes the linear framebuffer the bootloader set up (spec
// §6).
type Framebuffer struct {
	Base          uint64
	Width, Height uint32
	BytesPerPixel uint8
}

// Info is the decoded boot info record handed to kernel entry (spec §4.9,
// §6). Unlike the wire record, MemoryDescriptors is already a parsed slice:
// DecodeInfo does the walking so the rest of the kernel works with Go
// values instead of a raw pointer + stride.
type Info struct {
	Framebuffer       Framebuffer
	MemoryDescriptors []MemoryDescriptor
	InitrdBase        uint64
	InitrdSize        uint64
}

// DecodeInfo parses a boot_info record laid out exactly as spec §6
// describes: framebuffer fields, a memory-map size/stride/descriptor
// array, then the initrd base/size.
func DecodeInfo(buf []byte, memoryDescriptors []byte, descriptorSize uint64) (Info, *kernel.Error) {
	if len(buf) < 8+4+4+1 {
		return Info{}, errShortBuffer
	}

	info := Info{
		Framebuffer: Framebuffer{
			Base:          binary.LittleEndian.Uint64(buf[0:8]),
			Width:         binary.LittleEndian.Uint32(buf[8:12]),
			Height:        binary.LittleEndian.Uint32(buf[12:16]),
			BytesPerPixel: buf[16],
		},
	}

	if descriptorSize == 0 {
		descriptorSize = memoryDescriptorSize
	}
	for off := uint64(0); off+descriptorSize <= uint64(len(memoryDescriptors)); off += descriptorSize {
		desc, err := DecodeMemoryDescriptor(memoryDescriptors[off : off+descriptorSize])
		if err != nil {
			return Info{}, err
		}
		info.MemoryDescriptors = append(info.MemoryDescriptors, desc)
	}

	// buf[17:41] holds memory_map_size, memory_descriptor_size and the
	// descriptors pointer; the descriptors themselves arrive separately.
	if len(buf) >= 41+16 {
		info.InitrdBase = binary.LittleEndian.Uint64(buf[41:49])
		info.InitrdSize = binary.LittleEndian.Uint64(buf[49:57])
	}

	return info, nil
}

// UsableRanges returns the physical ranges marked type-7 usable (spec §4.1,
// §6), each as a (base, pageCount) pair.
func (i Info) UsableRanges() [][2]uint64 {
	var out [][2]uint64
	for _, d := range i.MemoryDescriptors {
		if d.Type == MemoryDescriptorUsableType {
			out = append(out, [2]uint64{d.PhysicalStart, d.NumberOfPages})
		}
	}
	return out
}
