// Package adi implements the Axle Driver Interface: the contract by which a
// userland driver task adopts a hardware IRQ vector and is woken on its
// arrival (spec §4.7).
package adi

import (
	"axle/kernel"
	"axle/kernel/klog"
	"axle/kernel/sched"
	ksync "axle/kernel/sync"
)

var (
	errVectorInUse = &kernel.Error{Module: "adi", Message: "IRQ vector already owned"}
	errNotOwner    = &kernel.Error{Module: "adi", Message: "caller does not own this IRQ vector"}
	errUnknownVector = &kernel.Error{Module: "adi", Message: "unknown IRQ vector"}
)

type driver struct {
	owner   sched.TID
	vector  uint8
	pending uint32
}

// Controller is axle's process-wide ADI singleton (spec §9): the vector to
// driver-task mapping plus each driver's pending-IRQ counter.
type Controller struct {
	mu ksync.Spinlock

	byVector map[uint8]*driver
	byOwner  map[sched.TID]*driver

	scheduler *sched.Scheduler
}

// New creates an ADI controller bound to sc, the scheduler it elevates
// driver priority on and unblocks drivers through.
func New(sc *sched.Scheduler) *Controller {
	return &Controller{
		byVector: map[uint8]*driver{},
		byOwner:  map[sched.TID]*driver{},
		scheduler: sc,
	}
}

// RegisterDriver binds owner to vector, elevating owner to driver priority
// class (spec §4.7). Re-registering an already-owned vector is an error
// (spec §4.7 invariant: "only one task may own a given IRQ vector").
func (c *Controller) RegisterDriver(owner sched.TID, name string, vector uint8) *kernel.Error {
	c.mu.Acquire()
	if _, exists := c.byVector[vector]; exists {
		c.mu.Release()
		return errVectorInUse
	}

	d := &driver{owner: owner, vector: vector}
	c.byVector[vector] = d
	c.byOwner[owner] = d
	c.mu.Release()

	if err := c.scheduler.ElevateToDriver(owner); err != nil {
		return err
	}

	klog.Module("adi").Info("driver registered", "name", name, "vector", vector, "owner", owner)
	return nil
}

// DeliverIRQ is called by the (simulated) interrupt dispatch stub on arrival
// of vector: it increments the pending-IRQ counter and wakes the owning
// driver task (spec §4.7). Arrivals for an unregistered vector are dropped.
func (c *Controller) DeliverIRQ(vector uint8) {
	c.mu.Acquire()
	d, ok := c.byVector[vector]
	if !ok {
		c.mu.Release()
		return
	}
	d.pending++
	owner := d.owner
	c.mu.Release()

	c.scheduler.Unblock(owner, sched.BlockIRQ)
}

// AwaitEvent blocks owner until vector's pending-IRQ counter is nonzero or
// an AMC message arrives, whichever comes first (spec §4.7's compound
// await). It returns true if the wake was for an IRQ, false for a message.
// If the pending counter is already nonzero, it returns true immediately
// without blocking.
func (c *Controller) AwaitEvent(owner sched.TID, vector uint8) (bool, *kernel.Error) {
	c.mu.Acquire()
	d, ok := c.byVector[vector]
	if !ok {
		c.mu.Release()
		return false, errUnknownVector
	}
	if d.owner != owner {
		c.mu.Release()
		return false, errNotOwner
	}
	if d.pending > 0 {
		c.mu.Release()
		return true, nil
	}
	c.mu.Release()

	if err := c.scheduler.Block(owner, sched.BlockIRQ|sched.BlockAMCMessage); err != nil {
		return false, err
	}

	t, ok := c.scheduler.Task(owner)
	if !ok {
		return false, errUnknownVector
	}
	return t.ConsumeUnblockReason() == sched.BlockIRQ, nil
}

// SendEOI decrements vector's pending-IRQ counter, acknowledging delivery so
// the next arrival can be serviced (spec §4.7).
func (c *Controller) SendEOI(owner sched.TID, vector uint8) *kernel.Error {
	c.mu.Acquire()
	defer c.mu.Release()

	d, ok := c.byVector[vector]
	if !ok {
		return errUnknownVector
	}
	if d.owner != owner {
		return errNotOwner
	}
	if d.pending > 0 {
		d.pending--
	}
	return nil
}

// PendingCount reports vector's current pending-IRQ counter, exposed for
// tests of the "arrival order is preserved" testable property (spec §8).
func (c *Controller) PendingCount(vector uint8) uint32 {
	c.mu.Acquire()
	defer c.mu.Release()
	d, ok := c.byVector[vector]
	if !ok {
		return 0
	}
	return d.pending
}

// ReleaseTask drops any vector owned by owner, called when a driver task
// exits so its IRQ vector becomes available again.
func (c *Controller) ReleaseTask(owner sched.TID) {
	c.mu.Acquire()
	defer c.mu.Release()
	d, ok := c.byOwner[owner]
	if !ok {
		return
	}
	delete(c.byVector, d.vector)
	delete(c.byOwner, owner)
}
