// Package sync provides the kernel's synchronization primitives: a spinlock
// that saves and restores the interrupt flag around its critical section,
// and a nesting variant for the handful of hot paths (spec §5) that must
// re-acquire a lock already held by the current task.
package sync

import (
	"sync/atomic"

	"axle/kernel/cpu"
)

// Spinlock is a lock where the caller busy-waits until it becomes
// available. Acquire disables interrupts for the duration of the critical
// section and Release restores the interrupt flag that was in effect
// before Acquire was called, per spec §5's interrupt discipline.
type Spinlock struct {
	state    atomic.Uint32
	restore  bool
	hasSaved bool
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Re-acquiring a lock already held by the current task deadlocks;
// use NestingSpinlock for the call sites that need re-entrancy.
func (l *Spinlock) Acquire() {
	wasEnabled := cpu.DisableInterrupts()
	for !l.state.CompareAndSwap(0, 1) {
		// busy-wait: a uniprocessor kernel only reaches this path if a
		// lock is held across a section that re-enables interrupts.
	}
	l.restore, l.hasSaved = wasEnabled, true
}

// TryToAcquire attempts to acquire the lock without blocking.
func (l *Spinlock) TryToAcquire() bool {
	wasEnabled := cpu.DisableInterrupts()
	if l.state.CompareAndSwap(0, 1) {
		l.restore, l.hasSaved = wasEnabled, true
		return true
	}
	cpu.RestoreInterrupts(wasEnabled)
	return false
}

// Release relinquishes a held lock and restores the interrupt flag to the
// value it held when Acquire was called. Calling Release on an unheld lock
// is a no-op.
func (l *Spinlock) Release() {
	if !l.state.CompareAndSwap(1, 0) {
		return
	}
	if l.hasSaved {
		cpu.RestoreInterrupts(l.restore)
		l.hasSaved = false
	}
}

// NestingSpinlock permits recursive acquisition by the same logical owner,
// tracked by an opaque owner token (typically a task id), for the small
// number of hot paths spec §5 calls out that re-enter a lock they already
// hold. No kernel lock uses it at present: the run-queue, AMC and ADI locks
// are plain Spinlocks.
type NestingSpinlock struct {
	inner Spinlock
	owner uint32
	depth uint32
	held  bool
}

// Acquire acquires the lock on behalf of owner, or increments the nesting
// depth if owner already holds it.
func (l *NestingSpinlock) Acquire(owner uint32) {
	if l.held && l.owner == owner {
		l.depth++
		return
	}
	l.inner.Acquire()
	l.owner, l.depth, l.held = owner, 1, true
}

// Release decrements the nesting depth and releases the underlying lock
// once it reaches zero.
func (l *NestingSpinlock) Release(owner uint32) {
	if !l.held || l.owner != owner {
		return
	}
	l.depth--
	if l.depth == 0 {
		l.held = false
		l.inner.Release()
	}
}
