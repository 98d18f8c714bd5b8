// Package recv implements the multi-receiver combinator described in spec
// §4.5: a static, fixed-arity set of sources a caller polls in a fixed
// order, falling back to a futex.WaitV park across every source's key when
// all are empty.
package recv

import (
	"time"

	"github.com/fimoengine/fimocore/futex"
)

// Source is anything recv can poll for a ready value and park on between
// polls: the SPMC/unbounded-SPMC channel types satisfy this directly.
type Source[T any] interface {
	TryPop() (T, bool)
	Key() futex.Addr
	Closed() bool
}

// Group is a fixed ordered tuple of Sources, polled in index order so that
// earlier sources act as higher priority. Construct with NewGroup; the zero
// value is not usable.
type Group[T any] struct {
	sources []Source[T]
	specs   []futex.WaitSpec
	table   *futex.Table
}

// NewGroup builds a Group over the given sources (evaluated in the order
// given) and the futex table those sources' channels were constructed with.
func NewGroup[T any](table *futex.Table, sources ...Source[T]) *Group[T] {
	return &Group[T]{sources: sources, table: table}
}

// TryRecv polls every source once, in order, returning the first ready
// value found. The second result is false if nothing is currently ready.
func (g *Group[T]) TryRecv() (T, bool) {
	for _, s := range g.sources {
		if v, ok := s.TryPop(); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Closed reports whether every source in the group has been closed.
func (g *Group[T]) Closed() bool {
	for _, s := range g.sources {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// Recv polls every source; if none is ready, it parks via futex.WaitV
// across every source's current key and retries on wake, until a value is
// found, every source reports Closed, or deadline elapses. A zero deadline
// means block indefinitely.
func (g *Group[T]) Recv(deadline time.Time) (T, bool, error) {
	for {
		if v, ok := g.TryRecv(); ok {
			return v, true, nil
		}
		if g.Closed() {
			var zero T
			return zero, false, nil
		}

		specs := make([]futex.WaitSpec, len(g.sources))
		for i, s := range g.sources {
			specs[i] = futex.WaitSpec{Key: s.Key(), Expected: s.Key().Load()}
		}
		_, err := g.table.WaitV(specs, deadline)
		if err != nil && err != futex.ErrInvalid {
			var zero T
			return zero, false, err
		}
		// ErrInvalid means a key already changed between TryRecv and
		// registering the wait: loop straight back to TryRecv. A clean
		// wake does the same thing, just after actually parking.
	}
}
