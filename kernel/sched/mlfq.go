package sched

// mlfq holds the three priority-class FIFO run queues (spec §4.4).
type mlfq struct {
	queues [3][]TID // indexed by Priority
}

func (q *mlfq) pushBack(p Priority, id TID) {
	q.queues[p] = append(q.queues[p], id)
}

// popHighest returns the head of the highest-priority non-empty queue, per
// the "priority monotonicity" invariant in spec §8: driver before normal
// before idle.
func (q *mlfq) popHighest() (TID, bool) {
	for p := PriorityDriver; p >= PriorityIdle; p-- {
		if len(q.queues[p]) > 0 {
			id := q.queues[p][0]
			q.queues[p] = q.queues[p][1:]
			return id, true
		}
	}
	return 0, false
}

// remove deletes id from whichever queue it occupies, if any; used when a
// task blocks or is killed while still enqueued.
func (q *mlfq) remove(id TID) {
	for p := range q.queues {
		for i, t := range q.queues[p] {
			if t == id {
				q.queues[p] = append(q.queues[p][:i], q.queues[p][i+1:]...)
				return
			}
		}
	}
}

// anyRunnable reports whether a non-idle task is queued.
func (q *mlfq) anyRunnable() bool {
	for p := PriorityNormal; p <= PriorityDriver; p++ {
		if len(q.queues[p]) > 0 {
			return true
		}
	}
	return false
}
