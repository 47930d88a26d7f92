package sched

import (
	"axle/kernel"
	"axle/kernel/arena"
	"axle/kernel/klog"
	"axle/kernel/mem/vmm"
	ksync "axle/kernel/sync"
)

var (
	errUnknownTask = &kernel.Error{Module: "sched", Message: "unknown task id"}
)

// Scheduler is axle's process-wide singleton MLFQ scheduler (spec §9: "model
// as a small number of process-wide singletons"). The zero value is not
// ready for use; call New.
type Scheduler struct {
	mu ksync.Spinlock

	tasks   arena.Arena[Task]
	byID    map[TID]arena.Handle
	nextTID TID

	queues  mlfq
	current TID
	ticks   uint64

	idleTID TID
}

// New creates a Scheduler and its always-present idle task, matching the
// "idle: the kernel idle task, always present, always runnable" guarantee
// in spec §4.4.
func New(idleSpace vmm.Handle) *Scheduler {
	s := &Scheduler{byID: map[TID]arena.Handle{}}
	idle := s.spawnLocked("idle", idleSpace, PriorityIdle)
	s.idleTID = idle
	s.current = idle
	return s
}

// Spawn creates a new runnable task and enqueues it at its priority class's
// tail.
func (s *Scheduler) Spawn(name string, space vmm.Handle, prio Priority) TID {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.spawnLocked(name, space, prio)
}

func (s *Scheduler) spawnLocked(name string, space vmm.Handle, prio Priority) TID {
	s.nextTID++
	id := s.nextTID

	h := s.tasks.Insert(Task{
		ID:           id,
		Name:         name,
		AddressSpace: space,
		Priority:     prio,
		State:        StateRunnable,
	})
	s.byID[id] = h
	s.queues.pushBack(prio, id)

	klog.Module("sched").Info("task spawned", "tid", id, "name", name, "priority", prio.String())
	return id
}

// Task resolves a TID to its Task, or false if it is unknown.
func (s *Scheduler) Task(id TID) (*Task, bool) {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.taskLocked(id)
}

func (s *Scheduler) taskLocked(id TID) (*Task, bool) {
	h, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.tasks.Get(h)
}

// Current returns the id of the currently running task.
func (s *Scheduler) Current() TID {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.current
}

// ElevateToDriver raises a task's priority class to driver, called when the
// task registers an IRQ via ADI (spec §4.7).
func (s *Scheduler) ElevateToDriver(id TID) *kernel.Error {
	s.mu.Acquire()
	defer s.mu.Release()

	t, ok := s.taskLocked(id)
	if !ok {
		return errUnknownTask
	}
	if t.Priority == PriorityDriver {
		return nil
	}

	if t.State == StateRunnable {
		s.queues.remove(id)
		s.queues.pushBack(PriorityDriver, id)
	}
	t.Priority = PriorityDriver
	return nil
}

// Block marks a task blocked for the given set of wake reasons and removes
// it from its run queue. If id is the current task, the caller must follow
// up with Schedule to actually switch away.
func (s *Scheduler) Block(id TID, reasons BlockReason) *kernel.Error {
	s.mu.Acquire()
	defer s.mu.Release()

	t, ok := s.taskLocked(id)
	if !ok {
		return errUnknownTask
	}

	s.queues.remove(id)
	t.State = StateBlocked
	t.BlockReasons = reasons
	t.unblockRead = false
	return nil
}

// Unblock wakes a blocked task if woken matches one of its block reasons,
// recording woken as the reason the task resumes with. Waking for a
// non-matching reason is a no-op, per spec §4.4.
func (s *Scheduler) Unblock(id TID, woken BlockReason) *kernel.Error {
	s.mu.Acquire()
	defer s.mu.Release()

	t, ok := s.taskLocked(id)
	if !ok {
		return errUnknownTask
	}
	if t.State != StateBlocked || t.BlockReasons&woken == 0 {
		return nil
	}

	t.State = StateRunnable
	t.UnblockReason = woken
	t.unblockRead = false
	t.BlockReasons = BlockNone
	s.queues.pushBack(t.Priority, id)
	return nil
}

// Yield cooperatively rotates the current task to the tail of its queue.
func (s *Scheduler) Yield() {
	s.mu.Acquire()
	defer s.mu.Release()

	t, ok := s.taskLocked(s.current)
	if !ok {
		return
	}
	t.ticksRun = 0
	s.queues.pushBack(t.Priority, s.current)
	t.State = StateRunnable
}

// SleepUntil blocks the current task until Tick has advanced at least to
// deadline (spec §4.4: "guarantees the task is runnable no earlier than t").
func (s *Scheduler) SleepUntil(id TID, deadline uint64) *kernel.Error {
	s.mu.Acquire()
	t, ok := s.taskLocked(id)
	if !ok {
		s.mu.Release()
		return errUnknownTask
	}
	t.SleepUntil = deadline
	s.mu.Release()
	return s.Block(id, BlockSleepUntil)
}

// SleepUntilOrMessage is SleepUntil but also wakes on AMC message arrival
// (spec §4.6's sleep_until_or_message).
func (s *Scheduler) SleepUntilOrMessage(id TID, deadline uint64) *kernel.Error {
	s.mu.Acquire()
	t, ok := s.taskLocked(id)
	if !ok {
		s.mu.Release()
		return errUnknownTask
	}
	t.SleepUntil = deadline
	s.mu.Release()
	return s.Block(id, BlockSleepUntil|BlockAMCMessage)
}

// Tick advances the scheduler's timer-tick count, wakes any tasks whose
// sleep deadline has passed, and rotates the current task if its quantum
// has expired. It returns the TID that should now be running.
func (s *Scheduler) Tick() TID {
	s.mu.Acquire()
	s.ticks++
	now := s.ticks
	s.mu.Release()

	s.wakeSleepers(now)

	s.mu.Acquire()
	t, ok := s.taskLocked(s.current)
	if ok {
		t.ticksRun++
		if t.ticksRun >= Quantum && t.State == StateRunning {
			t.ticksRun = 0
			t.State = StateRunnable
			s.queues.pushBack(t.Priority, s.current)
		}
	}
	s.mu.Release()

	return s.Schedule()
}

func (s *Scheduler) wakeSleepers(now uint64) {
	s.mu.Acquire()
	var toWake []TID
	s.tasks.Each(func(_ arena.Handle, t *Task) {
		if t.State == StateBlocked && t.BlockReasons&BlockSleepUntil != 0 && now >= t.SleepUntil {
			toWake = append(toWake, t.ID)
		}
	})
	s.mu.Release()

	for _, id := range toWake {
		s.Unblock(id, BlockSleepUntil)
	}
}

// Schedule picks the next task to run from the highest-priority non-empty
// queue, performs the (simulated) context switch, and returns its TID. If
// no task is runnable the idle task runs (spec §4.4: "idle runs only when
// no higher-priority task is runnable"; and idle is always runnable).
func (s *Scheduler) Schedule() TID {
	s.mu.Acquire()
	defer s.mu.Release()

	// A running task keeps the CPU unless a higher class has work queued;
	// quantum expiry (Tick) and Yield requeue it themselves.
	if prev, ok := s.taskLocked(s.current); ok && prev.State == StateRunning {
		higher := false
		for p := prev.Priority + 1; p <= PriorityDriver; p++ {
			higher = higher || len(s.queues.queues[p]) > 0
		}
		if !higher {
			return s.current
		}
		prev.State = StateRunnable
		s.queues.pushBack(prev.Priority, s.current)
	}

	next, ok := s.queues.popHighest()
	if !ok {
		next = s.idleTID
	}

	if nt, ok := s.taskLocked(next); ok {
		nt.State = StateRunning
		if nt.AddressSpace != 0 {
			vmm.Activate(nt.AddressSpace)
		}
	}

	s.current = next
	return next
}

// AnyRunnable reports whether any task besides idle is currently runnable,
// backing the "scheduler liveness" testable property in spec §8.
func (s *Scheduler) AnyRunnable() bool {
	s.mu.Acquire()
	defer s.mu.Release()
	return s.queues.anyRunnable()
}

// Exit marks a task exited with the given code and removes it from its run
// queue; resource teardown (AMC inbox flush, shared memory release, address
// space destruction) is driven by the caller via the returned task, mirroring
// the reaper-task design in spec §3.
func (s *Scheduler) Exit(id TID, code int) (*Task, *kernel.Error) {
	s.mu.Acquire()
	defer s.mu.Release()

	t, ok := s.taskLocked(id)
	if !ok {
		return nil, errUnknownTask
	}

	s.queues.remove(id)
	t.State = StateExited
	t.ExitCode = code

	if id == s.current {
		s.current = s.idleTID
	}

	return t, nil
}
