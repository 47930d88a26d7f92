// Package arena provides a generic handle-indexed store. Tasks and address
// spaces each live in one of these (spec.md §9's
// "cyclic graphs" design note): rather than have a TCB hold a pointer to its
// address space which holds a back-reference to its owning tasks, every
// cross-reference is a Handle; a small integer; resolved through the
// owning arena. This sidesteps reference-cycle lifetime management entirely
// and makes "does this still exist" a simple liveness check.
package arena

// Handle is an opaque reference to a value stored in an Arena. The zero
// Handle is never issued by Insert, so it can be used as a "no value" marker
// (e.g. a task with no address space).
type Handle uint32

// Arena is a generation-free slot table: Insert returns a Handle, Get
// resolves it back to a *T, and Remove frees the slot for reuse. Arena is
// not safe for concurrent use without an external lock; callers already
// hold the relevant kernel spinlock (spec §5) before touching one.
type Arena[T any] struct {
	slots []slot[T]
	free  []Handle
}

type slot[T any] struct {
	value T
	live  bool
}

// Insert stores value and returns its handle.
func (a *Arena[T]) Insert(value T) Handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h-1] = slot[T]{value: value, live: true}
		return h
	}

	a.slots = append(a.slots, slot[T]{value: value, live: true})
	return Handle(len(a.slots))
}

// Get resolves a handle to a pointer to its stored value. The second return
// value is false if the handle is zero, out of range, or has been removed.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if h == 0 || int(h) > len(a.slots) {
		return nil, false
	}
	s := &a.slots[h-1]
	if !s.live {
		return nil, false
	}
	return &s.value, true
}

// Remove frees the slot referenced by h. Removing an already-free or
// never-issued handle is a no-op.
func (a *Arena[T]) Remove(h Handle) {
	if h == 0 || int(h) > len(a.slots) || !a.slots[h-1].live {
		return
	}
	var zero T
	a.slots[h-1] = slot[T]{value: zero, live: false}
	a.free = append(a.free, h)
}

// Len returns the number of live entries.
func (a *Arena[T]) Len() int {
	return len(a.slots) - len(a.free)
}

// Each calls fn for every live handle/value pair, in handle order. fn must
// not mutate the arena.
func (a *Arena[T]) Each(fn func(Handle, *T)) {
	for i := range a.slots {
		if a.slots[i].live {
			fn(Handle(i+1), &a.slots[i].value)
		}
	}
}
