// Package uspmc implements the unbounded single-producer multi-consumer
// channel described in spec §4.4.3: a chain of bounded spmc.Channel
// segments, each double the capacity of the last, linked by an atomically
// swapped "active" pointer so a full segment never blocks a producer — it
// instead allocates the next, larger segment and publishes it.
package uspmc

import (
	"sync/atomic"

	"github.com/fimoengine/fimocore/chans/spmc"
	"github.com/fimoengine/fimocore/futex"
)

const minSegmentCapacity = 16

type segment[T any] struct {
	ch   *spmc.Channel[T]
	next atomic.Pointer[segment[T]]
}

// Channel is an unbounded SPMC channel of T, formed by chaining
// geometrically growing spmc.Channel segments.
type Channel[T any] struct {
	table *futex.Table

	active   atomic.Pointer[segment[T]] // newest segment producers push into
	drainAt  atomic.Pointer[segment[T]] // oldest segment consumers still draining
	closed   atomic.Bool
}

// New constructs an empty Channel, growing from an initial segment capacity
// of at least minSegmentCapacity.
func New[T any](table *futex.Table) *Channel[T] {
	first := &segment[T]{ch: spmc.New[T](minSegmentCapacity, table)}
	c := &Channel[T]{table: table}
	c.active.Store(first)
	c.drainAt.Store(first)
	return c
}

// Push enqueues v, growing the chain if the current segment is full. Never
// blocks and never returns an error (the channel is unbounded), except that
// a Push after Close is a no-op.
func (c *Channel[T]) Push(v T) {
	if c.closed.Load() {
		return
	}
	for {
		cur := c.active.Load()
		if err := cur.ch.Push(v); err == nil {
			return
		}
		// Segment is full: allocate the next, larger one and try to
		// publish it as the active segment. Only one producer's swap
		// wins; the rest retry against the new segment.
		grown := &segment[T]{ch: spmc.New[T](cur.ch.Cap()*2, c.table)}
		if c.active.CompareAndSwap(cur, grown) {
			cur.next.Store(grown)
			// Closing the superseded segment wakes receivers parked on its
			// key so they re-fetch Key() and follow the chain.
			cur.ch.Close()
			continue
		}
		// Lost the race: someone else grew the chain already (or is
		// mid-grow). Retry from the (now newer) active segment.
	}
}

// TryPop removes and returns a value from the oldest segment that still holds
// one, advancing past exhausted, closed-off segments as needed. Within a
// segment the order is that of spmc.Channel.TryPop, not insertion order. The
// second result is false if nothing is currently available.
func (c *Channel[T]) TryPop() (T, bool) {
	for {
		seg := c.drainAt.Load()
		if v, ok := seg.ch.TryPop(); ok {
			return v, true
		}
		next := seg.next.Load()
		if next == nil {
			var zero T
			return zero, false
		}
		// seg is exhausted and superseded; advance the drain cursor.
		// A benign race with another consumer doing the same CAS is
		// fine — only one swap matters, the rest are no-ops.
		c.drainAt.CompareAndSwap(seg, next)
	}
}

// Key returns the futex-addressable key of the current active segment, for
// use in a multi-key wait. Because growth republishes active, a long-parked
// waiter should re-fetch Key() after observing a wake that didn't resolve
// its read, the same pattern spec §4.5 describes for the multi-receiver.
func (c *Channel[T]) Key() futex.Addr { return c.active.Load().ch.Key() }

// Close closes every segment currently reachable from drainAt onward, and
// marks the channel closed to further Push calls. Already-queued values
// remain poppable.
func (c *Channel[T]) Close() {
	c.closed.Store(true)
	for seg := c.drainAt.Load(); seg != nil; seg = seg.next.Load() {
		seg.ch.Close()
	}
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool { return c.closed.Load() }

// Len reports the number of values currently queued across every segment
// still being drained. Racy by construction; intended for the worker
// load-balancing heuristic (spec §4.5's skew rule) and diagnostics, not for
// precise accounting.
func (c *Channel[T]) Len() int {
	n := 0
	for seg := c.drainAt.Load(); seg != nil; seg = seg.next.Load() {
		n += seg.ch.Len()
	}
	return n
}
