package amc

import (
	"testing"

	"axle/kernel"
	"axle/kernel/mem"
	"axle/kernel/mem/vmm"
)

func newTestSpacePair(t *testing.T) (vmm.Handle, vmm.Handle) {
	t.Helper()
	next := uintptr(0x2000_0000)
	vmm.SetFrameAllocator(func() (uintptr, *kernel.Error) {
		f := next
		next += uintptr(mem.PageSize)
		return f, nil
	})

	a, err := vmm.NewKernelAddressSpace()
	if err != nil {
		t.Fatalf("new space a: %v", err)
	}
	b, err := vmm.NewKernelAddressSpace()
	if err != nil {
		t.Fatalf("new space b: %v", err)
	}
	return a, b
}

func TestCreateAndDestroySharedMemory(t *testing.T) {
	spaceA, spaceB := newTestSpacePair(t)

	b := New()
	h, err := b.CreateSharedMemory(1, spaceA, 0x4000_0000, 2, spaceB, 0x5000_0000, mem.Size(mem.PageSize))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	physA, ok := vmm.PhysOf(spaceA, 0x4000_0000)
	if !ok {
		t.Fatalf("expected owner A mapping to exist")
	}
	physB, ok := vmm.PhysOf(spaceB, 0x5000_0000)
	if !ok {
		t.Fatalf("expected owner B mapping to exist")
	}
	if physA != physB {
		t.Fatalf("expected both sides to map the same physical frame: %x != %x", physA, physB)
	}

	if err := b.DestroySharedMemory(1, h); err != nil {
		t.Fatalf("destroy (owner A): %v", err)
	}
	if _, ok := vmm.PhysOf(spaceA, 0x4000_0000); ok {
		t.Fatalf("owner A mapping should be gone after its own release")
	}
	// owner B has not released yet; the region must still be alive to them.
	if _, ok := vmm.PhysOf(spaceB, 0x5000_0000); !ok {
		t.Fatalf("owner B mapping should survive until it also releases")
	}

	if err := b.DestroySharedMemory(2, h); err != nil {
		t.Fatalf("destroy (owner B): %v", err)
	}
	if _, ok := vmm.PhysOf(spaceB, 0x5000_0000); ok {
		t.Fatalf("owner B mapping should be gone once both sides released")
	}
}

func TestDestroySharedMemoryRejectsNonPeer(t *testing.T) {
	spaceA, spaceB := newTestSpacePair(t)

	b := New()
	h, err := b.CreateSharedMemory(1, spaceA, 0x4000_0000, 2, spaceB, 0x5000_0000, mem.Size(mem.PageSize))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.DestroySharedMemory(99, h); err == nil {
		t.Fatalf("expected non-peer destroy to be rejected")
	}
}

func TestTaskDiedReleasesSharedMemory(t *testing.T) {
	spaceA, spaceB := newTestSpacePair(t)

	b := New()
	_, err := b.CreateSharedMemory(1, spaceA, 0x4000_0000, 2, spaceB, 0x5000_0000, mem.Size(mem.PageSize))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b.TaskDied(1)
	if _, ok := vmm.PhysOf(spaceA, 0x4000_0000); ok {
		t.Fatalf("owner A mapping should be released on task death")
	}
	// owner B never released, so its side remains mapped.
	if _, ok := vmm.PhysOf(spaceB, 0x5000_0000); !ok {
		t.Fatalf("owner B mapping should still be present")
	}
}
