package vmm

import (
	"axle/kernel"
	"axle/kernel/mem"
)

var (
	errNoFrameAllocator = &kernel.Error{Module: "vmm", Message: "no frame allocator configured"}
	errDoubleMap        = &kernel.Error{Module: "vmm", Message: "page already mapped"}
	errUserInKernelHalf = &kernel.Error{Module: "vmm", Message: "user flag must never be set in the kernel half"}
	errUnknownSpace     = &kernel.Error{Module: "vmm", Message: "unknown address space"}
	errNotMapped        = &kernel.Error{Module: "vmm", Message: "page not mapped"}
)

// frameContents simulates physical RAM: real axle writes through mapped
// pages directly, but nothing in this repository backs a frame address with
// actual memory beyond the PMM's bitmap bookkeeping, so callers that need to
// deposit bytes into a mapped page (the ELF loader, mainly) go through
// WriteUser/ReadUser instead of dereferencing a pointer.
var frameContents = map[uintptr][]byte{}

func frameBuf(frameAddr uintptr) []byte {
	buf, ok := frameContents[frameAddr]
	if !ok {
		buf = make([]byte, mem.PageSize)
		frameContents[frameAddr] = buf
	}
	return buf
}

// WriteUser copies data into the pages backing [virt, virt+len(data)) in
// space, crossing page boundaries as needed. Every byte written must land on
// an already-mapped page.
func WriteUser(space Handle, virt uintptr, data []byte) *kernel.Error {
	mu.Lock()
	defer mu.Unlock()

	as, ok := spaces.Get(space)
	if !ok {
		return errUnknownSpace
	}

	off := 0
	for off < len(data) {
		page := PageFromAddress(virt + uintptr(off))
		pte, exists := as.user[page]
		if !exists {
			pte, exists = kernelHalf[page]
		}
		if !exists {
			return errNotMapped
		}

		pageOff := (virt + uintptr(off)) & (uintptr(mem.PageSize) - 1)
		n := int(uintptr(mem.PageSize) - pageOff)
		if remaining := len(data) - off; n > remaining {
			n = remaining
		}

		buf := frameBuf(pte.FrameAddr)
		copy(buf[pageOff:], data[off:off+n])
		off += n
	}
	return nil
}

// ReadUser is the read-side counterpart of WriteUser, used by tests and by
// callers that need to inspect what the loader deposited.
func ReadUser(space Handle, virt uintptr, n int) ([]byte, *kernel.Error) {
	mu.Lock()
	defer mu.Unlock()

	as, ok := spaces.Get(space)
	if !ok {
		return nil, errUnknownSpace
	}

	out := make([]byte, n)
	off := 0
	for off < n {
		page := PageFromAddress(virt + uintptr(off))
		pte, exists := as.user[page]
		if !exists {
			pte, exists = kernelHalf[page]
		}
		if !exists {
			return nil, errNotMapped
		}

		pageOff := (virt + uintptr(off)) & (uintptr(mem.PageSize) - 1)
		avail := int(uintptr(mem.PageSize) - pageOff)
		if remaining := n - off; avail > remaining {
			avail = remaining
		}

		buf := frameBuf(pte.FrameAddr)
		copy(out[off:], buf[pageOff:pageOff+uintptr(avail)])
		off += avail
	}
	return out, nil
}

// MapRegion rounds [virt, virt+size) out to page boundaries and, for each
// page, allocates a physical frame from the PMM and installs a PTE with the
// requested flags, creating the mapping if one does not already exist.
// Double-mapping a page is a bug and returns an error (spec §4.2: "asserts").
func MapRegion(space Handle, virt uintptr, size mem.Size, flags Flags) *kernel.Error {
	mu.Lock()
	as, ok := spaces.Get(space)
	mu.Unlock()
	if !ok {
		return errUnknownSpace
	}

	return mapPages(as, virt, size, flags, false)
}

// MapKernelRegion installs pages into the shared kernel half. It must be
// called before NotifyKernelMemoryAllocated freezes the kernel half (spec
// §4.2); afterward it always fails.
func MapKernelRegion(virt uintptr, size mem.Size, flags Flags) *kernel.Error {
	if flags&FlagUser != 0 {
		return errUserInKernelHalf
	}

	mu.Lock()
	frozen := kernelHalfFrozen
	mu.Unlock()
	if frozen {
		return errKernelHalfFrozen
	}

	return mapPages(nil, virt, size, flags, true)
}

func mapPages(as *AddressSpace, virt uintptr, size mem.Size, flags Flags, kernelHalfTarget bool) *kernel.Error {
	mu.Lock()
	defer mu.Unlock()

	if frameAllocFn == nil {
		return errNoFrameAllocator
	}

	start := mem.AlignDown(virt)
	end := mem.AlignUp(virt + uintptr(size))

	table := kernelHalf
	if !kernelHalfTarget {
		table = as.user
	}

	for addr := start; addr < end; addr += uintptr(mem.PageSize) {
		page := PageFromAddress(addr)
		if _, exists := table[page]; exists {
			return errDoubleMap
		}

		frameAddr, err := frameAllocFn()
		if err != nil {
			return err
		}

		table[page] = PTE{FrameAddr: frameAddr, Flags: flags}
	}

	return nil
}

// MapPhysicalRange installs PTEs for [virt, virt+size) in space, backed by
// an already-allocated contiguous physical range starting at physBase
// instead of asking the frame allocator for fresh frames. Used to hand a
// caller both ends of an alloc_physical_range request: a physical address
// for DMA-style use and a virtual mapping to address it through (spec
// §4.6).
func MapPhysicalRange(space Handle, virt, physBase uintptr, size mem.Size, flags Flags) *kernel.Error {
	mu.Lock()
	defer mu.Unlock()

	as, ok := spaces.Get(space)
	if !ok {
		return errUnknownSpace
	}

	start := mem.AlignDown(virt)
	end := mem.AlignUp(virt + uintptr(size))

	for addr := start; addr < end; addr += uintptr(mem.PageSize) {
		page := PageFromAddress(addr)
		if _, exists := as.user[page]; exists {
			return errDoubleMap
		}
		as.user[page] = PTE{FrameAddr: physBase + (addr - start), Flags: flags}
	}

	return nil
}

// UnmapRegion clears the PTEs covering [virt, virt+size). Unmapping a
// not-present page is a no-op (spec §4.2).
func UnmapRegion(space Handle, virt uintptr, size mem.Size) *kernel.Error {
	mu.Lock()
	defer mu.Unlock()

	as, ok := spaces.Get(space)
	if !ok {
		return errUnknownSpace
	}

	start := mem.AlignDown(virt)
	end := mem.AlignUp(virt + uintptr(size))

	for addr := start; addr < end; addr += uintptr(mem.PageSize) {
		page := PageFromAddress(addr)
		if _, exists := as.user[page]; !exists {
			continue
		}
		delete(as.user, page)
	}

	return nil
}

// PhysOf returns the physical address backing a virtual address in space,
// or false if the page is not mapped.
func PhysOf(space Handle, virt uintptr) (uintptr, bool) {
	mu.Lock()
	defer mu.Unlock()

	as, ok := spaces.Get(space)
	if !ok {
		return 0, false
	}

	page := PageFromAddress(virt)
	if pte, exists := as.user[page]; exists {
		return pte.FrameAddr + (virt & (uintptr(mem.PageSize) - 1)), true
	}
	if pte, exists := kernelHalf[page]; exists {
		return pte.FrameAddr + (virt & (uintptr(mem.PageSize) - 1)), true
	}
	return 0, false
}

// EarlyReserveRegion reserves size bytes of virtual address space in the
// kernel half for internal allocator bookkeeping, mirroring gopher-os's
// vmm.EarlyReserveRegion used by the bitmap allocator to size itself before
// the heap is online. Here it simply hands back the next free run of
// kernel-half virtual addresses.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	mu.Lock()
	defer mu.Unlock()

	addr := earlyReserveCursor
	earlyReserveCursor += uintptr(mem.AlignUp(uintptr(size)))
	return addr, nil
}

var earlyReserveCursor uintptr = 0xFFFF800000000000 // canonical high-half start, matching x86_64 convention
