// Package syscall implements axle's syscall gateway: a fixed dispatch table
// mapping call numbers to kernel handlers (spec §4.8).
package syscall

import (
	"axle/kernel/klog"
)

// MaxArgs is the maximum number of register arguments a syscall handler
// receives, per spec §4.8 ("up to five arguments").
const MaxArgs = 5

// Args is the fixed argument vector passed to every handler, plus the
// optional interrupted register snapshot used by task_assert-style
// backtraces (spec §4.8: "requests that the full interrupted register
// snapshot be passed as a hidden first argument").
type Args struct {
	Caller   uintptr
	Values   [MaxArgs]uintptr
	Snapshot *RegisterSnapshot
}

// RegisterSnapshot is the saved register state at the moment a syscall
// trapped into the kernel, used to build a backtrace (spec §4.8).
type RegisterSnapshot struct {
	IP, SP, BP uintptr
	Regs       [8]uintptr
}

// Handler is a syscall implementation. It returns the value placed back in
// the call-number register (spec §4.8).
type Handler func(Args) int64

type entry struct {
	name         string
	fn           Handler
	wantSnapshot bool
}

// Table is a bounded call-number -> handler dispatch table (spec §4.8). The
// zero value is ready to use.
type Table struct {
	entries map[uint32]entry
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{entries: map[uint32]entry{}}
}

// Register binds number to fn. wantSnapshot requests the interrupted
// register snapshot be attached to Args before fn runs (used by
// task_assert). Re-registering an existing number overwrites it, matching
// how the bootstrap task lays down the whole table once at boot (spec
// §4.9 step 9).
func (t *Table) Register(number uint32, name string, fn Handler, wantSnapshot bool) {
	if t.entries == nil {
		t.entries = map[uint32]entry{}
	}
	t.entries[number] = entry{name: name, fn: fn, wantSnapshot: wantSnapshot}
}

// Dispatch invokes the handler bound to number with args, attaching snapshot
// first if the handler requested it. Unknown call numbers fail with -1
// (spec §4.8). caller identifies the calling task, threaded through so
// handlers that touch per-task state (AMC, the scheduler) know whose state
// to touch.
func (t *Table) Dispatch(number uint32, caller uintptr, args [MaxArgs]uintptr, snapshot *RegisterSnapshot) int64 {
	e, ok := t.entries[number]
	if !ok {
		klog.Module("syscall").Warn("unknown syscall", "number", number)
		return -1
	}

	call := Args{Caller: caller, Values: args}
	if e.wantSnapshot {
		call.Snapshot = snapshot
	}
	return e.fn(call)
}

// Registered reports whether number has a bound handler, used by tests and
// by diagnostics.
func (t *Table) Registered(number uint32) bool {
	_, ok := t.entries[number]
	return ok
}
