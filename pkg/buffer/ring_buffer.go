package buffer

import "sync"

// RingBuffer is a thread-safe fixed-size buffer that keeps the most recent
// data. Writes never fail; when the buffer is full the oldest elements are
// overwritten.
type RingBuffer[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// RingN creates a new RingBuffer with the specified size.
func RingN[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer[T]{buf: make([]T, size)}
}

// Write appends p, overwriting the oldest data once the buffer is full.
func (rb *RingBuffer[T]) Write(p []T) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := int64(len(rb.buf))
	src := p
	if int64(len(src)) > size {
		// Only the last len(buf) elements can survive.
		skipped := int64(len(src)) - size
		src = src[skipped:]
		rb.tail += skipped
		rb.head = rb.tail
	}
	for len(src) > 0 {
		tail := int(rb.tail % size)
		n := copy(rb.buf[tail:], src)
		src = src[n:]
		rb.tail += int64(n)
	}
	if rb.tail-rb.head > size {
		rb.head = rb.tail - size
	}
	return len(p), nil
}

// Snapshot returns a copy of the buffered data, oldest first.
func (rb *RingBuffer[T]) Snapshot() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := int(rb.tail - rb.head)
	out := make([]T, n)
	if n == 0 {
		return out
	}
	head := int(rb.head % int64(len(rb.buf)))
	c := copy(out, rb.buf[head:min(head+n, len(rb.buf))])
	copy(out[c:], rb.buf[:n-c])
	return out
}

// Len returns the number of buffered elements.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.tail - rb.head)
}

// Cap returns the size of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buf)
}

// Reset discards all buffered data.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head, rb.tail = 0, 0
}
