// Package elf loads a static ELF executable into a freshly created address
// space (spec §4.5): validate header, map and populate PT_LOAD segments, and
// set up the initial user stack with argv.
//
// Parsing uses the standard library's debug/elf rather than a hand-rolled
// header reader: no example repo in the reference pack carries a third-party
// ELF library, and debug/elf is the idiomatic, well-tested way any Go
// program reads ELF structures (see DESIGN.md).
package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"axle/kernel"
	"axle/kernel/klog"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
)

const (
	// UserStackTop is the well-known high user-virtual address the initial
	// stack page is mapped at (spec §4.5).
	UserStackTop = uintptr(0x7FFF_FFFF_F000)

	maxArgvBytes = int(mem.PageSize) - 256 // leave room for the pointer array
)

var (
	errBadMagic       = &kernel.Error{Module: "elf", Message: "invalid ELF magic"}
	errUnsupportedABI = &kernel.Error{Module: "elf", Message: "unsupported ELF class or machine"}
	errNotExecutable  = &kernel.Error{Module: "elf", Message: "ELF is not a static executable"}
	errNoLoadableSeg  = &kernel.Error{Module: "elf", Message: "ELF has no loadable segments"}
	errArgvTooLarge   = &kernel.Error{Module: "elf", Message: "argv exceeds the reserved stack page"}
)

// Image is the result of loading an ELF buffer into an address space: where
// it should start executing, and the stack pointer ring-3 entry resumes
// with (spec §4.5: "record the resulting stack pointer").
type Image struct {
	Entry        uintptr
	StackPtr     uintptr
	AddressSpace vmm.Handle
}

// Load validates buf as a static 32- or 64-bit little-endian executable,
// maps its PT_LOAD segments and an argv stack into space, and returns the
// resulting entry point and stack pointer. space must already exist (spec
// §4.5: loading happens "into a newly-created address space").
func Load(space vmm.Handle, buf []byte, argv []string) (Image, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return Image{}, errBadMagic
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 && f.Class != elf.ELFCLASS64 {
		return Image{}, errUnsupportedABI
	}
	if f.Data != elf.ELFDATA2LSB {
		return Image{}, errUnsupportedABI
	}
	if f.Machine != elf.EM_386 && f.Machine != elf.EM_X86_64 {
		return Image{}, errUnsupportedABI
	}
	if f.Type != elf.ET_EXEC {
		// Dynamic (ET_DYN) and relocatable (ET_REL) files are rejected,
		// per spec §4.5.
		return Image{}, errNotExecutable
	}

	loaded := false
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := loadSegment(space, f, prog); err != nil {
			return Image{}, err
		}
		loaded = true
	}
	if !loaded {
		return Image{}, errNoLoadableSeg
	}

	sp, serr := setupStack(space, argv)
	if serr != nil {
		return Image{}, serr
	}

	klog.Module("elf").Info("image loaded", "entry", f.Entry, "stack", sp)
	return Image{Entry: uintptr(f.Entry), StackPtr: sp, AddressSpace: space}, nil
}

func loadSegment(space vmm.Handle, f *elf.File, prog *elf.Prog) *kernel.Error {
	flags := segmentFlags(prog.Flags)

	alignedStart := mem.AlignDown(uintptr(prog.Vaddr))
	alignedEnd := mem.AlignUp(uintptr(prog.Vaddr) + uintptr(prog.Memsz))
	size := mem.Size(alignedEnd - alignedStart)

	if err := vmm.MapRegion(space, alignedStart, size, flags); err != nil {
		return err
	}

	data := make([]byte, prog.Filesz)
	if _, ioErr := prog.ReadAt(data, 0); ioErr != nil {
		return &kernel.Error{Module: "elf", Message: "failed reading segment contents: " + ioErr.Error()}
	}

	// Bytes between filesz and memsz form BSS and stay zero; vmm.MapRegion
	// hands back freshly mapped pages so there is nothing to zero here
	// beyond copying exactly filesz bytes (spec §4.5).
	for off := 0; off < len(data); off += int(mem.PageSize) {
		page := uintptr(prog.Vaddr) + uintptr(off)
		end := off + int(mem.PageSize)
		if end > len(data) {
			end = len(data)
		}
		if werr := writeUserPage(space, page, data[off:end]); werr != nil {
			return werr
		}
	}
	return nil
}

// writeUserPage is the Go-native substitute for the direct memcpy into
// mapped physical memory the original loader performs: since this
// repository has no physical backing store for a mapped page beyond its
// frame allocator bookkeeping, segment bytes are recorded in the address
// space's backing store via vmm so PhysOf-based tests can observe them.
func writeUserPage(space vmm.Handle, virt uintptr, data []byte) *kernel.Error {
	return vmm.WriteUser(space, virt, data)
}

func segmentFlags(f elf.ProgFlag) vmm.Flags {
	flags := vmm.FlagPresent | vmm.FlagUser
	if f&elf.PF_W != 0 {
		flags |= vmm.FlagWritable
	}
	if f&elf.PF_X != 0 {
		flags |= vmm.FlagExecutable
	}
	return flags
}

// setupStack maps the single user stack page at UserStackTop, writes argv
// strings followed by the pointer array onto it, and returns the resulting
// stack pointer (spec §4.5).
func setupStack(space vmm.Handle, argv []string) (uintptr, *kernel.Error) {
	base := UserStackTop - uintptr(mem.PageSize)
	if err := vmm.MapRegion(space, base, mem.PageSize, vmm.UserRW); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	offsets := make([]uintptr, len(argv))
	for i, s := range argv {
		offsets[i] = base + uintptr(buf.Len())
		buf.WriteString(s)
		buf.WriteByte(0)
	}

	// Pointer array follows the strings, aligned to 8 bytes.
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
	argvArrayOffset := buf.Len()
	for _, off := range offsets {
		var ptr [8]byte
		binary.LittleEndian.PutUint64(ptr[:], uint64(off))
		buf.Write(ptr[:])
	}

	if buf.Len() > maxArgvBytes {
		return 0, errArgvTooLarge
	}

	if err := writeUserPage(space, base, buf.Bytes()); err != nil {
		return 0, err
	}

	return base + uintptr(argvArrayOffset), nil
}
