// Package ringbuf is a bounded FIFO shared by one producer that must never
// block and one consumer that drains in batches.
//
// When the ring is full the newest value is rejected and counted; values
// already queued are never overwritten.
package ringbuf

import (
	"sync"
	"sync/atomic"
)

// Stats is a snapshot of the ring counters. Pushed + Dropped equals the
// number of TryPush calls.
type Stats struct {
	Capacity int
	Len      int
	Pushed   uint64
	Dropped  uint64
	Popped   uint64
}

type Ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	head int
	size int

	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64

	notify chan struct{}
}

// New creates a ring holding at most capacity values (minimum 1).
func New[T any](capacity int) *Ring[T] {
	capacity = max(capacity, 1)
	return &Ring[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// TryPush enqueues v, or drops it when the ring is full. It never blocks.
func (r *Ring[T]) TryPush(v T) bool {
	r.mu.Lock()
	if r.size == len(r.buf) {
		r.mu.Unlock()
		r.dropped.Add(1)
		return false
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.mu.Unlock()
	r.pushed.Add(1)

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain appends every queued value to dst in FIFO order and empties the ring.
func (r *Ring[T]) Drain(dst []T) []T {
	var zero T
	r.mu.Lock()
	n := r.size
	for i := range n {
		idx := (r.head + i) % len(r.buf)
		dst = append(dst, r.buf[idx])
		r.buf[idx] = zero
	}
	r.head = (r.head + n) % len(r.buf)
	r.size = 0
	r.mu.Unlock()
	r.popped.Add(uint64(n))
	return dst
}

// Notify fires at least once after values were pushed. Consumers should
// still drain on a timer since one signal may cover many pushes.
func (r *Ring[T]) Notify() <-chan struct{} { return r.notify }

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) Stats() Stats {
	return Stats{
		Capacity: len(r.buf),
		Len:      r.Len(),
		Pushed:   r.pushed.Load(),
		Dropped:  r.dropped.Load(),
		Popped:   r.popped.Load(),
	}
}
