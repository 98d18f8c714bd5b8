// Package spmc implements the bounded single-producer multi-consumer
// channel described in spec §4.4.2: a fixed, power-of-two-capacity ring of
// slots addressed through a binary sum-tree of atomic counters, so a
// producer or consumer can find a non-full or filled slot by descending the
// tree guided by a per-operation seed rather than scanning or taking a
// per-slot lock.
//
// The tree is a flat array of 2*capacity-1 counters: index 0 is the root,
// node i's children sit at 2i+1 and 2i+2, and the capacity leaves occupy
// indices [capacity-1, 2*capacity-2]. A leaf's counter doubles as that
// slot's occupancy flag (0 empty, 1 filled) — there is no separate "filled"
// array. The root's counter doubles as the futex key consumers park on: a
// consumer that finds root == 0 registers a wait on the root counter's
// address and is woken (via futex.Wake) the instant Push increments it.
// This mirrors the cache-line-padded, pure-atomic style of the eventloop
// package's FastState (see DESIGN.md).
package spmc

import (
	"runtime"
	"sync/atomic"

	"github.com/fimoengine/fimocore/futex"
)

// ErrFull is returned by Push when the channel is at capacity.
type fullError struct{}

func (fullError) Error() string { return "spmc: full" }

// ErrFull is the sentinel returned by Push on a full channel.
var ErrFull error = fullError{}

// Channel is a bounded SPMC channel of T over a power-of-two number of
// slots, backed by a counter sum-tree (spec §4.4.2). A capacity of zero is
// accepted: the channel constructs successfully but every Push reports
// ErrFull and every TryPop reports empty, per spec §8's boundary case.
type Channel[T any] struct {
	capacity int

	slots  []T
	counts []atomic.Uint64 // sum-tree; leaves double as per-slot occupancy flags

	table  *futex.Table
	closed atomic.Bool
}

// New constructs a Channel with the given capacity, which must be a power
// of two, or zero. Plain Push/TryPop use a seed of zero throughout; see
// PushSeed/TryPopSeed for callers that want to spread contention across
// the tree.
func New[T any](capacity int, table *futex.Table) *Channel[T] {
	if capacity < 0 || (capacity != 0 && capacity&(capacity-1) != 0) {
		panic("spmc: capacity must be zero or a positive power of two")
	}
	treeSize := 2*capacity - 1
	if capacity == 0 {
		treeSize = 1 // placeholder root/leaf so Key() and Len() stay valid
	}
	return &Channel[T]{
		capacity: capacity,
		slots:    make([]T, capacity),
		counts:   make([]atomic.Uint64, treeSize),
		table:    table,
	}
}

// Push enqueues v with a seed of zero. See PushSeed.
func (c *Channel[T]) Push(v T) error { return c.PushSeed(v, 0) }

// PushSeed enqueues v, descending the sum-tree using seed's bits (consumed
// LSB-first, one bit per level) to prefer a non-full child at each branch
// (spec §4.4.2 Insert, tie-break policy). Returns ErrFull if the channel is
// at capacity or has zero capacity.
func (c *Channel[T]) PushSeed(v T, seed uint64) error {
	if c.capacity == 0 {
		return ErrFull
	}
	if c.counts[0].Load() >= uint64(c.capacity) {
		return ErrFull
	}

	idx := 0
	subtreeSize := uint64(c.capacity)
	level := uint(0)
	for idx < c.capacity-1 {
		left, right := 2*idx+1, 2*idx+2
		childSize := subtreeSize / 2
		preferred, other := left, right
		if (seed>>level)&1 == 1 {
			preferred, other = right, left
		}
		if c.counts[preferred].Load() < childSize {
			idx = preferred
		} else {
			idx = other
		}
		subtreeSize = childSize
		level++
	}

	// idx is now the tree index of a leaf the descent judged non-full, but
	// that's a heuristic under concurrent extraction, so spin until
	// whichever leaf we land on is actually free (this is the only place a
	// tardy consumer can stall the single producer, per spec §4.4.2 Insert).
	for !c.counts[idx].CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
	c.slots[idx-(c.capacity-1)] = v

	for idx != 0 {
		idx = (idx - 1) / 2
		c.counts[idx].Add(1)
	}

	c.table.Wake(c.Key(), 1, futex.AnyToken)
	return nil
}

// TryPop removes and returns a filled slot's value without blocking, using a
// seed of zero (which reaches the lowest-indexed filled slot; this is not
// insertion order once slots are reused). See TryPopSeed.
func (c *Channel[T]) TryPop() (T, bool) { return c.TryPopSeed(0) }

// TryPopSeed removes a value without blocking. The second result is false
// if the channel is currently empty. seed steers which leaf is reached the
// same way PushSeed's seed does (spec §4.4.2 Extract, tie-break policy).
func (c *Channel[T]) TryPopSeed(seed uint64) (T, bool) {
	var zero T
	if c.capacity == 0 {
		return zero, false
	}
	if !c.reserve(0) {
		return zero, false
	}

	idx := 0
	level := uint(0)
	for idx < c.capacity-1 {
		left, right := 2*idx+1, 2*idx+2
		preferred, other := left, right
		if (seed>>level)&1 == 1 {
			preferred, other = right, left
		}
		for {
			if c.reserve(preferred) {
				idx = preferred
				break
			}
			if c.reserve(other) {
				idx = other
				break
			}
			// Both children were transiently observed empty; the root
			// reservation guarantees a slot exists somewhere in this
			// subtree, so retry this same level rather than restarting
			// from the root, which would surrender the reservation.
			runtime.Gosched()
		}
		level++
	}

	slot := idx - (c.capacity - 1)
	v := c.slots[slot]
	var z T
	c.slots[slot] = z
	return v, true
}

// reserve CAS-decrements counts[idx] if it is nonzero, returning whether it
// succeeded. Used both for the root reservation and each level's descent.
func (c *Channel[T]) reserve(idx int) bool {
	for {
		v := c.counts[idx].Load()
		if v == 0 {
			return false
		}
		if c.counts[idx].CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// Key returns the futex-addressable root counter, for use in a multi-key
// wait over several channels (spec §4.5's multi-receiver combinator).
func (c *Channel[T]) Key() futex.Addr { return futex.Uint64Key(&c.counts[0]) }

// Len reports the number of currently filled slots. Racy by construction;
// intended for diagnostics.
func (c *Channel[T]) Len() int { return int(c.counts[0].Load()) }

// Cap reports the channel's fixed capacity.
func (c *Channel[T]) Cap() int { return c.capacity }

// Close marks the channel closed. Already-queued values remain poppable.
func (c *Channel[T]) Close() {
	c.closed.Store(true)
	c.table.Wake(c.Key(), c.capacity, futex.AnyToken)
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool { return c.closed.Load() }
