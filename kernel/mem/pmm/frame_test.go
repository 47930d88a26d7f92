package pmm

import "testing"

func TestFrameAddress(t *testing.T) {
	f := Frame(3)
	if got, want := f.Address(), uintptr(3*4096); got != want {
		t.Fatalf("Address() = %d; want %d", got, want)
	}

	if got, want := FrameFromAddress(3*4096+10), f; got != want {
		t.Fatalf("FrameFromAddress() = %d; want %d", got, want)
	}
}
