// Package queue provides the bounded hand-off queues between the network and
// update goroutines.
package queue

import "context"

// SPSC is a bounded FIFO with exactly one producer goroutine and one consumer
// goroutine. Items are popped in the order they were pushed.
type SPSC[T any] struct {
	items chan T
}

// NewSPSC creates a queue holding at most capacity items
func NewSPSC[T any](capacity int) *SPSC[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &SPSC[T]{
		items: make(chan T, capacity),
	}
}

// Push adds an item to the rear of the queue, waiting for room while the queue
// is full. It reports false if ctx ends first.
func (q *SPSC[T]) Push(ctx context.Context, item T) bool {
	select {
	case q.items <- item:
		return true
	default:
	}

	select {
	case q.items <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryPush adds an item unless the queue is full
func (q *SPSC[T]) TryPush(item T) bool {
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// TryPop removes and returns the front item without waiting
func (q *SPSC[T]) TryPop() (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Drain pops every item currently queued and hands it to fn.
// Items pushed while draining may or may not be included.
func (q *SPSC[T]) Drain(fn func(T)) int {
	n := 0
	for {
		item, ok := q.TryPop()
		if !ok {
			return n
		}
		fn(item)
		n++
	}
}

// Len returns the number of queued items
func (q *SPSC[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *SPSC[T]) Cap() int {
	return cap(q.items)
}
