// Package heap implements axle's kernel heap: a byte-granular allocator over
// kernel-mapped pages, serving kernel-internal allocations (spec §4.3). When
// the free list can't satisfy a request the heap extends itself by mapping
// additional pages through the VMM into its reserved virtual range.
package heap

import (
	"sync"
	"unsafe"

	"axle/kernel"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
)

var (
	errZeroSize   = &kernel.Error{Module: "heap", Message: "allocation size must be > 0"}
	errBadFree    = &kernel.Error{Module: "heap", Message: "free of unknown or already-freed pointer"}
	errBadAlign   = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}
	errGrowFailed = &kernel.Error{Module: "heap", Message: "heap growth did not yield a usable block"}

	// panicFn is a variable so tests can replace it.
	panicFn = kernel.Panic
)

// block describes one free-list node. Offsets are relative to the heap's
// backing store, not absolute virtual addresses, which keeps the allocator
// testable without a real address space.
type block struct {
	offset uintptr
	size   uintptr
}

// Heap is a first-fit free-list allocator. The zero value is not ready for
// use; call New.
type Heap struct {
	mu sync.Mutex

	space    vmm.Handle
	base     uintptr
	store    []byte
	free     []block
	used     map[uintptr]uintptr // offset -> size, for allocated blocks
	pageSize uintptr
}

// New creates a Heap that maps pages into address space as it grows,
// starting at virtual address base.
func New(space vmm.Handle, base uintptr) *Heap {
	return &Heap{
		space:    space,
		base:     base,
		used:     map[uintptr]uintptr{},
		pageSize: uintptr(mem.PageSize),
	}
}

// Alloc reserves n bytes and returns the virtual address of the block, with
// no alignment guarantee beyond the natural word size.
func (h *Heap) Alloc(n uintptr) (uintptr, *kernel.Error) {
	return h.AllocAligned(n, unsafe.Sizeof(uintptr(0)))
}

// AllocAligned reserves n bytes aligned to align bytes, a power of two.
func (h *Heap) AllocAligned(n, align uintptr) (uintptr, *kernel.Error) {
	if n == 0 {
		return 0, errZeroSize
	}
	if align == 0 || align&(align-1) != 0 {
		return 0, errBadAlign
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Try the free list; if nothing fits, grow once and retry against the
	// now-larger free list. growLocked always appends a block big enough
	// for n+align, so a second pass is guaranteed to succeed.
	for attempt := 0; attempt < 2; attempt++ {
		for i, b := range h.free {
			start := alignUp(b.offset, align)
			padding := start - b.offset
			if b.size < padding+n {
				continue
			}

			h.consumeFreeBlockLocked(i, padding, n)
			h.used[start] = n
			return h.base + start, nil
		}

		if err := h.growLocked(n + align); err != nil {
			panicFn(err)
			return 0, err
		}
	}

	panicFn(errGrowFailed)
	return 0, errGrowFailed
}

// consumeFreeBlockLocked removes n bytes (after padding bytes of slop for
// alignment) from free block i, splitting off whatever remains on either
// side as new free blocks.
func (h *Heap) consumeFreeBlockLocked(i int, padding, n uintptr) {
	b := h.free[i]
	h.free = append(h.free[:i], h.free[i+1:]...)

	if padding > 0 {
		h.free = append(h.free, block{offset: b.offset, size: padding})
	}

	remaining := b.size - padding - n
	if remaining > 0 {
		h.free = append(h.free, block{offset: b.offset + padding + n, size: remaining})
	}
}

// Free releases a previously allocated block back to the free list.
func (h *Heap) Free(addr uintptr) *kernel.Error {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset := addr - h.base
	size, ok := h.used[offset]
	if !ok {
		return errBadFree
	}

	delete(h.used, offset)
	h.free = append(h.free, block{offset: offset, size: size})
	h.coalesceLocked()
	return nil
}

// Realloc resizes a previously allocated block, copying its contents if it
// must move.
func (h *Heap) Realloc(addr uintptr, n uintptr) (uintptr, *kernel.Error) {
	h.mu.Lock()
	offset := addr - h.base
	oldSize, ok := h.used[offset]
	h.mu.Unlock()
	if !ok {
		return 0, errBadFree
	}
	if n <= oldSize {
		return addr, nil
	}

	newAddr, err := h.Alloc(n)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	copy(h.store[newAddr-h.base:], h.store[offset:offset+oldSize])
	h.mu.Unlock()

	_ = h.Free(addr)
	return newAddr, nil
}

// growLocked extends the heap by mapping enough additional pages to satisfy
// at least minBytes, via the VMM, per spec §4.3.
func (h *Heap) growLocked(minBytes uintptr) *kernel.Error {
	growBy := alignUp(minBytes, h.pageSize)

	virt := h.base + uintptr(len(h.store))
	if err := vmm.MapRegion(h.space, virt, mem.Size(growBy), vmm.KernelRW); err != nil {
		return err
	}

	oldLen := uintptr(len(h.store))
	h.store = append(h.store, make([]byte, growBy)...)
	h.free = append(h.free, block{offset: oldLen, size: growBy})
	h.coalesceLocked()
	return nil
}

// coalesceLocked merges adjacent free blocks to keep the free list small and
// avoid artificial fragmentation.
func (h *Heap) coalesceLocked() {
	if len(h.free) < 2 {
		return
	}

	merged := true
	for merged {
		merged = false
	outer:
		for i := range h.free {
			for j := range h.free {
				if i == j {
					continue
				}
				if h.free[i].offset+h.free[i].size == h.free[j].offset {
					h.free[i].size += h.free[j].size
					h.free = append(h.free[:j], h.free[j+1:]...)
					merged = true
					break outer
				}
			}
		}
	}
}

// Stats reports the heap's total mapped bytes and bytes currently handed
// out, backing the "system profile request" core command's
// kernel_heap_allocated_bytes field (spec §4.6, §6).
func (h *Heap) Stats() (mappedBytes, allocatedBytes mem.Size) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var used uintptr
	for _, size := range h.used {
		used += size
	}
	return mem.Size(len(h.store)), mem.Size(used)
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
