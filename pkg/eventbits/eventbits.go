// Package eventbits provides a bitmask event group: goroutines raise bits,
// a waiter blocks until any (or all) of a mask is set and optionally clears
// what it observed.
package eventbits

import (
	"context"
	"sync"
)

// Bits is a set of event flags.
type Bits uint32

// Has reports whether all bits in mask are set.
func (b Bits) Has(mask Bits) bool { return b&mask == mask }

// Any reports whether any bit in mask is set.
func (b Bits) Any(mask Bits) bool { return b&mask != 0 }

// Group holds a bitmask and wakes waiters when bits are set.
// The zero value is ready to use.
type Group struct {
	mu     sync.Mutex
	bits   Bits
	notify chan struct{}
}

// Set raises bits and wakes every waiter.
func (g *Group) Set(bits Bits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bits |= bits
	if g.notify != nil {
		close(g.notify)
		g.notify = nil
	}
}

// Clear lowers bits.
func (g *Group) Clear(bits Bits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bits &^= bits
}

// Get returns the current bits.
func (g *Group) Get() Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// WaitOptions controls how Wait matches and consumes bits.
type WaitOptions struct {
	// All waits until every bit in the mask is set instead of any.
	All bool
	// Clear lowers the observed bits before returning.
	Clear bool
}

// Wait blocks until the bits in mask satisfy opts or ctx is done. It returns
// the bits of mask that were set when the wait completed. On ctx expiry it
// returns the currently set mask bits together with ctx.Err().
func (g *Group) Wait(ctx context.Context, mask Bits, opts WaitOptions) (Bits, error) {
	for {
		g.mu.Lock()
		got := g.bits & mask
		if (opts.All && got == mask) || (!opts.All && got != 0) {
			if opts.Clear {
				g.bits &^= got
			}
			g.mu.Unlock()
			return got, nil
		}
		if g.notify == nil {
			g.notify = make(chan struct{})
		}
		ch := g.notify
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return g.Get() & mask, ctx.Err()
		}
	}
}
