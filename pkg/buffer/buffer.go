package buffer

import "sync"

// Buffer is a thread-safe growable buffer.
//
// Data is appended with Write and consumed either in exact-size chunks with
// Take or all at once with Drain. Drain swaps the backing slice out under the
// lock, so a consumer can process a batch while producers keep appending.
type Buffer[T any] struct {
	mu  sync.Mutex
	buf []T
}

// N creates a new Buffer with the specified initial capacity.
// The buffer grows beyond this capacity as needed.
func N[T any](n int) *Buffer[T] {
	return &Buffer[T]{buf: make([]T, 0, n)}
}

// Write appends p to the buffer. It always consumes all of p.
func (b *Buffer[T]) Write(p []T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Add appends a single element.
func (b *Buffer[T]) Add(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, v)
}

// Take removes and returns exactly n elements from the front of the buffer.
// It returns false and leaves the buffer untouched when fewer than n
// elements are buffered.
func (b *Buffer[T]) Take(n int) ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || len(b.buf) < n {
		return nil, false
	}
	out := make([]T, n)
	copy(out, b.buf)
	rest := copy(b.buf, b.buf[n:])
	clear(b.buf[rest:])
	b.buf = b.buf[:rest]
	return out, true
}

// Drain removes and returns everything buffered. The returned slice is owned
// by the caller.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = make([]T, 0, cap(out))
	return out
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Grow ensures room for at least n more elements without reallocating.
func (b *Buffer[T]) Grow(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	nb := make([]T, len(b.buf), len(b.buf)+n)
	copy(nb, b.buf)
	b.buf = nb
}

// Reset discards all buffered elements and keeps the allocation.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.buf)
	b.buf = b.buf[:0]
}
