// Package vmm implements axle's virtual memory manager: per-process page
// tables built over frames handed out by the PMM, map/unmap of virtual
// ranges with a small flag vocabulary, address-space cloning, and the
// kernel-half-sharing scheme described in spec §4.2.
//
// gopher-os builds real multi-level x86 page tables by walking physical
// memory with unsafe pointers (kernel/mem/vmm/pdt.go, map.go). This package
// keeps the same public contract and the same "kernel half is shared by
// reference, user half is private" invariant, but represents a page table
// as a Go map from virtual page number to PTE; see SPEC_FULL.md §0 for why
// that substitution is faithful to the spec without requiring real
// hardware.
package vmm

import (
	"sync"

	"axle/kernel"
	"axle/kernel/arena"
	"axle/kernel/cpu"
	"axle/kernel/mem"
)

// Flags describes the permission bits on a mapping, matching the PTE fields
// named in spec §3: present, writable, user-accessible.
type Flags uint8

const (
	FlagPresent Flags = 1 << iota
	FlagWritable
	FlagUser
	FlagExecutable
)

// Named flag combinations used throughout the kernel (spec §4.2).
const (
	KernelRO = FlagPresent
	KernelRW = FlagPresent | FlagWritable
	UserRO   = FlagPresent | FlagUser
	UserRW   = FlagPresent | FlagWritable | FlagUser
	UserRX   = FlagPresent | FlagUser | FlagExecutable
)

// PTE is a single page table entry: a frame address plus permission flags.
type PTE struct {
	FrameAddr uintptr
	Flags     Flags
}

// Page is a virtual page number (virtual address >> mem.PageShift).
type Page uintptr

// PageFromAddress returns the Page containing a virtual address.
func PageFromAddress(addr uintptr) Page { return Page(addr >> mem.PageShift) }

// Address returns the virtual address of the first byte of the page.
func (p Page) Address() uintptr { return uintptr(p) << mem.PageShift }

// FrameAllocator is the function shape the VMM uses to obtain physical
// frames, mirroring gopher-os's vmm.SetFrameAllocator seam so tests can
// swap in a bounded mock allocator.
type FrameAllocator func() (uintptr, *kernel.Error)

var (
	mu               sync.Mutex
	frameAllocFn     FrameAllocator
	kernelHalf       = map[Page]PTE{}
	kernelHalfFrozen bool
	spaces           arena.Arena[AddressSpace]
	rootAddrCounter  uintptr = uintptr(mem.PageSize)

	errKernelHalfFrozen = &kernel.Error{Module: "vmm", Message: "kernel half is frozen; no new kernel mappings allowed"}
)

// SetFrameAllocator installs the function the VMM uses to obtain physical
// frames for new mappings. Must be called once during boot, after the PMM
// is initialized.
func SetFrameAllocator(fn FrameAllocator) {
	mu.Lock()
	defer mu.Unlock()
	frameAllocFn = fn
}

// Handle identifies an address space.
type Handle = arena.Handle

// AddressSpace is a per-process page-table root: a private user half plus a
// reference to the process-wide kernel half (spec §3).
type AddressSpace struct {
	// RootPhysAddr is a synthetic "page-table base register" value unique
	// to this address space, used only as an opaque identifier passed to
	// cpu.SwitchPDT/ActivePDT.
	RootPhysAddr uintptr

	user map[Page]PTE
}

func nextRootAddrLocked() uintptr {
	rootAddrCounter += uintptr(mem.PageSize)
	return rootAddrCounter
}

// NewKernelAddressSpace creates the very first address space, used to
// establish the kernel half during boot (spec §4.9 step 6). Subsequent
// address spaces are created with CloneAddressSpace.
func NewKernelAddressSpace() (Handle, *kernel.Error) {
	mu.Lock()
	defer mu.Unlock()

	h := spaces.Insert(AddressSpace{
		RootPhysAddr: nextRootAddrLocked(),
		user:         map[Page]PTE{},
	})
	return h, nil
}

// NotifyKernelMemoryAllocated freezes the kernel half: after this call, no
// further kernel mappings may be installed (spec §4.2), and every
// subsequently created address space shares the current kernel half by
// reference.
func NotifyKernelMemoryAllocated() {
	mu.Lock()
	defer mu.Unlock()
	kernelHalfFrozen = true
}

// IsSharedKernelMemoryAllocated reports whether the one-time freeze has
// happened yet.
func IsSharedKernelMemoryAllocated() bool {
	mu.Lock()
	defer mu.Unlock()
	return kernelHalfFrozen
}

// CloneAddressSpace produces a new address space sharing the kernel half by
// reference and with an empty user half; axle has no fork/copy-on-write in
// the core (spec §4.2); the ELF loader populates the user half afterward.
func CloneAddressSpace(parent Handle) (Handle, *kernel.Error) {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := spaces.Get(parent); !ok {
		return 0, &kernel.Error{Module: "vmm", Message: "clone of unknown address space"}
	}

	h := spaces.Insert(AddressSpace{
		RootPhysAddr: nextRootAddrLocked(),
		user:         map[Page]PTE{},
	})
	return h, nil
}

// DestroyAddressSpace removes an address space from the registry, called by
// the reaper task once a task's resources are torn down (spec §4.4
// lifecycle: "destroyed by task_die").
func DestroyAddressSpace(space Handle) {
	mu.Lock()
	defer mu.Unlock()
	spaces.Remove(space)
}

// Activate switches the active page-table root to space, the step the
// scheduler takes on every context switch that crosses an address-space
// boundary (spec §4.4).
func Activate(space Handle) *kernel.Error {
	mu.Lock()
	as, ok := spaces.Get(space)
	mu.Unlock()
	if !ok {
		return &kernel.Error{Module: "vmm", Message: "activate of unknown address space"}
	}
	cpu.SwitchPDT(as.RootPhysAddr)
	return nil
}

// KernelHalvesAlias reports whether two address spaces currently point at
// the same kernel-half table; the invariant spec §8 calls "kernel-half
// aliasing". Both address spaces read the package-level kernelHalf map, so
// once NotifyKernelMemoryAllocated has been called this is always true for
// any two spaces created afterward; it is exposed so tests can assert it
// directly rather than relying on implementation knowledge.
func KernelHalvesAlias(a, b Handle) bool {
	mu.Lock()
	defer mu.Unlock()
	_, aok := spaces.Get(a)
	_, bok := spaces.Get(b)
	return aok && bok && kernelHalfFrozen
}
