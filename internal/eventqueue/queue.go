// Package eventqueue provides the thread-safe FIFO of deferred actions that
// carries work from device goroutines to the single consumer goroutine.
//
// Producers call Enqueue from any goroutine. The consumer calls Drain (or
// DrainAll) once per tick. Drain atomically takes ownership of every action
// queued at that instant by swapping the backing slice under the lock; actions
// enqueued while the drained batch is executing are not part of the batch and
// run on the next drain.
//
// Ordering: actions from one producer keep that producer's enqueue order.
// Across producers the order is arrival order at the lock; there is no
// per-zone priority.
//
// Capacity is unbounded and Enqueue never blocks beyond the critical section
// and never drops. Producers are real-time hardware events that cannot be
// rejected, so there is no backpressure signal.
package eventqueue

import (
	"sync"
	"sync/atomic"
)

// Action is a deferred zero-argument effect executed by the consumer.
type Action func()

// initialCapacity is the starting size of a fresh batch slice.
const initialCapacity = 64

// Queue is an unbounded multi-producer, single-consumer FIFO of actions.
//
// Thread Safety: Enqueue, Len and Stats are safe from any goroutine. Drain and
// DrainAll must only be called from the consumer goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []Action

	enqueued atomic.Uint64
	drained  atomic.Uint64
}

// Stats holds queue counters.
type Stats struct {
	Enqueued uint64
	Drained  uint64
	Pending  int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		pending: make([]Action, 0, initialCapacity),
	}
}

// Enqueue appends an action. A nil action is ignored.
func (q *Queue) Enqueue(a Action) {
	if a == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, a)
	q.mu.Unlock()
	q.enqueued.Add(1)
}

// Drain takes ownership of every queued action and returns them in enqueue
// order. The queue is empty afterwards. Returns nil if nothing was queued.
func (q *Queue) Drain() []Action {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := q.pending
	q.pending = make([]Action, 0, max(initialCapacity, len(batch)/2))
	q.mu.Unlock()

	q.drained.Add(uint64(len(batch)))
	return batch
}

// DrainAll drains the queue and executes the batch in order on the calling
// goroutine. It returns the number of actions executed. A panicking action
// propagates; use consumer.Loop for panic isolation.
func (q *Queue) DrainAll() int {
	batch := q.Drain()
	for i, a := range batch {
		batch[i] = nil
		a()
	}
	return len(batch)
}

// Len returns the number of actions currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued: q.enqueued.Load(),
		Drained:  q.drained.Load(),
		Pending:  q.Len(),
	}
}
