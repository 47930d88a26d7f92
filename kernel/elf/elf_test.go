package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"axle/kernel"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
)

func useTestFrameAllocator() {
	var next uintptr = 0x1000_0000
	vmm.SetFrameAllocator(func() (uintptr, *kernel.Error) {
		f := next
		next += uintptr(mem.PageSize)
		return f, nil
	})
}

// buildMinimalELF64 assembles a tiny, well-formed ET_EXEC x86-64 binary with
// a single PT_LOAD segment, entry point pointing at the start of that
// segment, and payload as its file-backed contents.
func buildMinimalELF64(vaddr, entry uint64, payload []byte) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	segOffset := uint64(ehdrSize + phdrSize)

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // e_type: ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(62)) // e_machine: EM_X86_64
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&buf, binary.LittleEndian, entry)      // e_entry
	binary.Write(&buf, binary.LittleEndian, uint64(ehdrSize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_phentsize placeholder, fixed below
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx
	out := buf.Bytes()
	binary.LittleEndian.PutUint16(out[54:56], uint16(phdrSize)) // fix up e_phentsize

	var ph bytes.Buffer
	binary.Write(&ph, binary.LittleEndian, uint32(1))              // p_type: PT_LOAD
	binary.Write(&ph, binary.LittleEndian, uint32(5))              // p_flags: R+X
	binary.Write(&ph, binary.LittleEndian, segOffset)              // p_offset
	binary.Write(&ph, binary.LittleEndian, vaddr)                  // p_vaddr
	binary.Write(&ph, binary.LittleEndian, vaddr)                  // p_paddr
	binary.Write(&ph, binary.LittleEndian, uint64(len(payload)))   // p_filesz
	binary.Write(&ph, binary.LittleEndian, uint64(len(payload)+8)) // p_memsz (extra bytes are BSS)
	binary.Write(&ph, binary.LittleEndian, uint64(0x1000))         // p_align

	out = append(out, ph.Bytes()...)
	out = append(out, payload...)
	return out
}

func TestLoadRejectsBadMagic(t *testing.T) {
	useTestFrameAllocator()
	space, _ := vmm.NewKernelAddressSpace()

	if _, err := Load(space, []byte("not an elf"), nil); err == nil {
		t.Fatalf("expected bad magic to be rejected")
	}
}

func TestLoadMapsSegmentAndSetsEntry(t *testing.T) {
	useTestFrameAllocator()
	space, _ := vmm.NewKernelAddressSpace()

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	const vaddr = 0x40_0000
	buf := buildMinimalELF64(vaddr, vaddr, payload)

	img, err := Load(space, buf, []string{"prog", "arg1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.Entry != vaddr {
		t.Fatalf("entry = %x, want %x", img.Entry, vaddr)
	}

	got, rerr := vmm.ReadUser(space, vaddr, len(payload))
	if rerr != nil {
		t.Fatalf("read back segment: %v", rerr)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("segment contents = %x, want %x", got, payload)
	}

	// the extra memsz-filesz bytes (BSS) must read back zero.
	bss, rerr := vmm.ReadUser(space, vaddr+uintptr(len(payload)), 4)
	if rerr != nil {
		t.Fatalf("read bss: %v", rerr)
	}
	for _, b := range bss {
		if b != 0 {
			t.Fatalf("expected BSS to be zero, got %x", bss)
		}
	}
}

func TestLoadSetsUpArgvStack(t *testing.T) {
	useTestFrameAllocator()
	space, _ := vmm.NewKernelAddressSpace()

	const vaddr = 0x40_0000
	buf := buildMinimalELF64(vaddr, vaddr, []byte{0x90})

	img, err := Load(space, buf, []string{"file_manager", "--verbose"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.StackPtr == 0 {
		t.Fatalf("expected a non-zero stack pointer")
	}
	if img.StackPtr < UserStackTop-uintptr(mem.PageSize) || img.StackPtr >= UserStackTop {
		t.Fatalf("stack pointer %x outside the mapped stack page", img.StackPtr)
	}
}

func TestLoadRejectsRelocatable(t *testing.T) {
	useTestFrameAllocator()
	space, _ := vmm.NewKernelAddressSpace()

	buf := buildMinimalELF64(0x1000, 0x1000, []byte{0x90})
	// flip e_type to ET_REL (1).
	binary.LittleEndian.PutUint16(buf[16:18], 1)

	if _, err := Load(space, buf, nil); err == nil {
		t.Fatalf("expected relocatable ELF to be rejected")
	}
}
