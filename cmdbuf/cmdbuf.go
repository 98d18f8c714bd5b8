// Package cmdbuf implements the command buffer described in spec §3/§4.5: a
// group of tasks submitted together, sharing a completion counter, a status
// word, and cooperative-cancellation fate. The counter/done-channel shape is
// grounded on the microbatch package's batcherState — a pending unit of work
// whose completion is observed via a closed channel rather than a condition
// variable.
package cmdbuf

import (
	"context"
	"sync"
	"sync/atomic"
)

// Status is the command buffer's lifecycle state.
type Status uint32

const (
	// Running is the initial state: at least one task has not yet completed.
	Running Status = iota
	// Cancelling means Cancel was called but tasks haven't all observed it yet.
	Cancelling
	// Cancelled means the last task completed after Cancel had been called.
	Cancelled
	// Completed means every task completed without the buffer ever being cancelled.
	Completed
)

// Buffer tracks the shared fate of a batch of tasks: how many remain
// outstanding, whether cancellation was requested, and whether it has been
// detached (ownership transferred to the pool rather than awaited by Join).
type Buffer struct {
	remaining       atomic.Int64
	cancelRequested atomic.Bool
	status          atomic.Uint32
	detached        atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// New constructs a Buffer tracking taskCount outstanding tasks. taskCount
// must be >= 1.
func New(taskCount int) *Buffer {
	b := &Buffer{done: make(chan struct{})}
	b.remaining.Store(int64(taskCount))
	b.status.Store(uint32(Running))
	return b
}

// TaskCompleted decrements the outstanding-task counter. Must be called
// exactly once per task, regardless of whether it completed or was aborted.
// When the counter reaches zero, the buffer transitions to Completed (or
// Cancelled, if Cancel was ever called) and Join's wait resolves.
func (b *Buffer) TaskCompleted() {
	if b.remaining.Add(-1) != 0 {
		return
	}
	if b.cancelRequested.Load() {
		b.status.Store(uint32(Cancelled))
	} else {
		b.status.Store(uint32(Completed))
	}
	b.doneOnce.Do(func() { close(b.done) })
}

// Cancel marks the buffer cancelling. Already-running tasks observe this at
// their next CancelRequested() poll; it does not interrupt a task mid-flight.
func (b *Buffer) Cancel() {
	b.cancelRequested.Store(true)
	b.status.CompareAndSwap(uint32(Running), uint32(Cancelling))
}

// CancelRequested reports whether Cancel has been called. Tasks in this
// buffer should poll this at their cooperative suspension points.
func (b *Buffer) CancelRequested() bool {
	return b.cancelRequested.Load()
}

// Status returns the buffer's current lifecycle state.
func (b *Buffer) Status() Status {
	return Status(b.status.Load())
}

// Join blocks until every task in the buffer has completed, or ctx is
// cancelled first.
func (b *Buffer) Join(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAndDetach is Cancel followed by Detach, the common pattern for
// "stop this work but don't wait for it to unwind".
func (b *Buffer) CancelAndDetach() {
	b.Cancel()
	b.Detach()
}

// Detach transfers ownership of the buffer's remaining lifetime to the
// pool: nothing further calls Join on it, so its eventual completion is
// only observable via Done.
func (b *Buffer) Detach() {
	b.detached.Store(true)
}

// Detached reports whether Detach has been called.
func (b *Buffer) Detached() bool {
	return b.detached.Load()
}

// Done returns a channel closed once every task has completed, for use in
// select statements.
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Remaining reports the number of tasks not yet completed. Racy by
// construction; intended for diagnostics.
func (b *Buffer) Remaining() int64 {
	return b.remaining.Load()
}
