// Package cpu models the handful of privileged CPU operations the rest of
// the kernel depends on: the interrupt-enable flag, halting, TLB
// invalidation, and the active page-table-base register.
//
// gopher-os implements these as naked assembly stubs (kernel/cpu/cpu_amd64.go)
// linked into a freestanding binary. This repository runs atop a normal Go
// runtime (see SPEC_FULL.md §0), so each operation is instead backed by
// ordinary, race-detector-friendly Go state; the seam the rest of the
// kernel calls through is unchanged.
package cpu

import "sync/atomic"

var (
	interruptsEnabled atomic.Bool
	halted            atomic.Bool
	activePDT         atomic.Uintptr
	flushedEntries    atomic.Uint64
)

func init() {
	interruptsEnabled.Store(true)
}

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() { interruptsEnabled.Store(true) }

// DisableInterrupts disables interrupt handling and returns whether
// interrupts were enabled beforehand, so callers can restore the prior
// state (the save/restore discipline spec §5 requires of spinlocks).
func DisableInterrupts() bool { return interruptsEnabled.Swap(false) }

// RestoreInterrupts restores the interrupt-enable flag to a previously saved
// value.
func RestoreInterrupts(wasEnabled bool) { interruptsEnabled.Store(wasEnabled) }

// InterruptsEnabled reports the current interrupt-enable flag.
func InterruptsEnabled() bool { return interruptsEnabled.Load() }

// Halt stops instruction execution. Calls to Halt never return control to
// the caller in a real kernel; here it flags the halted state for tests and
// cmd/axlesim to observe.
func Halt() { halted.Store(true) }

// Halted reports whether Halt has been called.
func Halted() bool { return halted.Load() }

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr) { flushedEntries.Add(1) }

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB; invoked by the scheduler on every
// context switch that crosses an address space boundary (spec §4.4).
func SwitchPDT(pdtPhysAddr uintptr) { activePDT.Store(pdtPhysAddr) }

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr { return activePDT.Load() }
