package buffer

import (
	"errors"
	"sync"
)

// ErrFull is returned by Queue.Push when the queue is at capacity.
var ErrFull = errors.New("buffer: queue full")

// Queue is a bounded FIFO queue.
//
// Push never blocks: a full queue returns ErrFull and leaves the queue
// unchanged. Peek and Pop let a consumer look at the head, try to hand it
// off, and only remove it when the hand-off succeeded.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	n     int
}

// QueueN creates a Queue holding at most size elements.
func QueueN[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{items: make([]T, size)}
}

// Push appends v to the tail of the queue.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.items) {
		return ErrFull
	}
	q.items[(q.head+q.n)%len(q.items)] = v
	q.n++
	return nil
}

// Peek returns the head of the queue without removing it.
func (q *Queue[T]) Peek() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return v, false
	}
	return q.items[q.head], true
}

// Pop removes and returns the head of the queue.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return v, true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// Reset drops all queued elements.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.head = 0
	q.n = 0
}
