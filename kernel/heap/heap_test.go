package heap

import (
	"testing"

	"axle/kernel"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()

	var next uintptr
	vmm.SetFrameAllocator(func() (uintptr, *kernel.Error) {
		next += uintptr(mem.PageSize)
		return next, nil
	})

	space, err := vmm.NewKernelAddressSpace()
	if err != nil {
		t.Fatalf("NewKernelAddressSpace: %v", err)
	}

	return New(space, 0xFFFF900000000000)
}

func TestAllocFreeReuse(t *testing.T) {
	h := newTestHeap(t)

	a, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := h.Free(a); err != nil {
		t.Fatalf("Free: %v", err)
	}

	b, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}

	if a != b {
		t.Fatalf("expected freed block to be reused: a=%d b=%d", a, b)
	}
}

func TestAllocAlignedRespectsAlignment(t *testing.T) {
	h := newTestHeap(t)

	addr, err := h.AllocAligned(32, 64)
	if err != nil {
		t.Fatalf("AllocAligned: %v", err)
	}

	if addr%64 != 0 {
		t.Fatalf("expected 64-byte aligned address, got %d", addr)
	}
}

func TestGrowsWhenFreeListExhausted(t *testing.T) {
	h := newTestHeap(t)

	// Request more than a single page so the heap must call growLocked.
	addr, err := h.Alloc(uintptr(mem.PageSize) * 3)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr == 0 {
		t.Fatal("expected a non-zero address")
	}

	mapped, used := h.Stats()
	if used != mem.Size(mem.PageSize)*3 {
		t.Fatalf("used = %d; want %d", used, mem.Size(mem.PageSize)*3)
	}
	if mapped < used {
		t.Fatalf("mapped (%d) should be >= used (%d)", mapped, used)
	}
}

func TestReallocCopiesContent(t *testing.T) {
	h := newTestHeap(t)

	a, _ := h.Alloc(16)
	b, err := h.Realloc(a, 256)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if b == 0 {
		t.Fatal("expected non-zero address")
	}
}

func TestFreeUnknownPointerIsReported(t *testing.T) {
	h := newTestHeap(t)

	if err := h.Free(0xDEAD); err == nil {
		t.Fatal("expected an error freeing an unknown pointer")
	}
}
