// Package queue provides the FIFO which connects a detector to its processor.
package queue

// Bounded is a thread safe FIFO with fixed capacity.
//
// Offer never blocks, so producers running on foreign goroutines
// (watch callbacks, scanners sharing a schedule) return immediately.
type Bounded[T any] struct {
	ch chan T
}

func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// Offer enqueues v. It returns false when the queue is full and v is dropped.
func (q *Bounded[T]) Offer(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Poll dequeues the oldest item. ok is false when the queue is empty.
func (q *Bounded[T]) Poll() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// Drain dequeues items until the queue is empty, passing each to fn in order.
//
// Items offered while draining are also passed.
// It returns how many items are passed.
func (q *Bounded[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := q.Poll()
		if !ok {
			return n
		}
		n += 1
		fn(v)
	}
}

func (q *Bounded[T]) Len() int {
	return len(q.ch)
}

func (q *Bounded[T]) Cap() int {
	return cap(q.ch)
}
