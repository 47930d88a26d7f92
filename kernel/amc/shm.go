package amc

import (
	"axle/kernel"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
)

// RegionHandle identifies a shared-memory region (spec §3).
type RegionHandle uint32

// Region is a reference-counted pair of virtual mappings; one in each
// participating address space; backed by the same physical frames (spec
// §3, §4.6). It is destroyed once both owners have released it.
type Region struct {
	Handle RegionHandle
	Size   mem.Size

	ownerA, ownerB         TaskID
	spaceA, spaceB         vmm.Handle
	localVirtA, localVirtB uintptr

	releasedA, releasedB bool
}

var (
	errUnknownRegion = &kernel.Error{Module: "amc", Message: "unknown shared-memory region"}
	errNotAPeer      = &kernel.Error{Module: "amc", Message: "caller is not a peer of this shared-memory region"}
)

// CreateSharedMemory maps size bytes user-RW at callerVirt in the caller's
// address space, taking frames from the VMM's frame allocator one page at a
// time, and maps those same frames user-RW at peerVirt in the peer's
// address space (spec §4.6). The frames are not guaranteed to be physically
// contiguous. It returns the region handle.
func (b *Bus) CreateSharedMemory(
	callerID TaskID, callerSpace vmm.Handle, callerVirt uintptr,
	peerID TaskID, peerSpace vmm.Handle, peerVirt uintptr,
	size mem.Size,
) (RegionHandle, *kernel.Error) {
	if err := vmm.MapRegion(callerSpace, callerVirt, size, vmm.UserRW); err != nil {
		return 0, err
	}
	// Map the peer's range onto the caller's frames, page by page.
	callerStart, peerStart := mem.AlignDown(callerVirt), mem.AlignDown(peerVirt)
	span := mem.AlignUp(callerVirt+uintptr(size)) - callerStart
	for off := uintptr(0); off < span; off += uintptr(mem.PageSize) {
		phys, _ := vmm.PhysOf(callerSpace, callerStart+off)
		if err := vmm.MapPhysicalRange(peerSpace, peerStart+off, phys, mem.PageSize, vmm.UserRW); err != nil {
			_ = vmm.UnmapRegion(peerSpace, peerStart, mem.Size(off))
			_ = vmm.UnmapRegion(callerSpace, callerVirt, size)
			return 0, err
		}
	}

	b.mu.Acquire()
	defer b.mu.Release()

	b.nextRegion++
	h := b.nextRegion
	b.regions[h] = &Region{
		Handle:     h,
		Size:       size,
		ownerA:     callerID,
		spaceA:     callerSpace,
		localVirtA: callerVirt,
		ownerB:     peerID,
		spaceB:     peerSpace,
		localVirtB: peerVirt,
	}
	return h, nil
}

// DestroySharedMemory releases owner's side of the region: owner's mapping
// is removed at once, and the region record is dropped once both peers
// have released (spec §4.6). The backing frames are not returned to the
// frame allocator; vmm.UnmapRegion only clears the PTEs.
func (b *Bus) DestroySharedMemory(owner TaskID, h RegionHandle) *kernel.Error {
	b.mu.Acquire()
	r, ok := b.regions[h]
	if !ok {
		b.mu.Release()
		return errUnknownRegion
	}

	switch owner {
	case r.ownerA:
		r.releasedA = true
	case r.ownerB:
		r.releasedB = true
	default:
		b.mu.Release()
		return errNotAPeer
	}

	done := r.releasedA && r.releasedB
	if done {
		delete(b.regions, h)
	}
	b.mu.Release()

	if owner == r.ownerA {
		_ = vmm.UnmapRegion(r.spaceA, r.localVirtA, r.Size)
	} else {
		_ = vmm.UnmapRegion(r.spaceB, r.localVirtB, r.Size)
	}

	return nil
}

// releaseOwnerRegionsLocked releases every region owner still holds, called
// from TaskDied (spec §4.6: "release its shared-memory regions").
func (b *Bus) releaseOwnerRegionsLocked(owner TaskID) {
	b.mu.Acquire()
	var toRelease []RegionHandle
	for h, r := range b.regions {
		if r.ownerA == owner || r.ownerB == owner {
			toRelease = append(toRelease, h)
		}
	}
	b.mu.Release()

	for _, h := range toRelease {
		_ = b.DestroySharedMemory(owner, h)
	}
}
