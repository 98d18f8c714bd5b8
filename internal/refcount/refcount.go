// Package refcount provides a minimal atomic reference counter, the
// building block for fimocore's Context object (spec §4.1).
//
// Increment and decrement are plain sync/atomic adds. Go's atomics are
// sequentially consistent, which is at least as strong as a relaxed
// increment and a release decrement with acquire on observing zero, so
// destruction observes a happens-before from every preceding Unref without
// an explicit fence.
package refcount

import "sync/atomic"

// Counter is an atomic, non-weak reference count. The zero value is not
// usable; construct with New.
type Counter struct {
	n atomic.Int64
}

// New returns a Counter with an initial count of 1.
func New() *Counter {
	c := &Counter{}
	c.n.Store(1)
	return c
}

// Ref increments the count. Safe for concurrent use; never returns an
// observation of the decremented-to-zero instant (callers must not Ref an
// instance they don't already hold a live reference to).
func (c *Counter) Ref() {
	c.n.Add(1)
}

// Unref decrements the count and reports whether this call drove it to
// zero. Only one Unref call, across all goroutines holding a reference,
// will ever observe true for a given Counter.
func (c *Counter) Unref() bool {
	return c.n.Add(-1) == 0
}

// Load returns the current count. Intended for diagnostics only; the
// returned value may be stale the instant it's read.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
