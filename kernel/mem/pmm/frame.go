// Package pmm implements axle's physical memory manager: a bitmap-indexed
// pool of 4 KiB physical frames (spec §4.1).
package pmm

import "axle/kernel/mem"

// Frame identifies a physical 4 KiB frame by its frame number (physical
// address >> mem.PageShift), mirroring gopher-os's kernel/mem/pmm.Frame.
type Frame uint64

// Address returns the physical address of the first byte of the frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FrameFromAddress returns the Frame containing the given physical address.
func FrameFromAddress(addr uintptr) Frame {
	return Frame(addr >> mem.PageShift)
}
