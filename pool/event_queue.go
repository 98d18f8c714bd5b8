package pool

import (
	"sync/atomic"

	"github.com/fimoengine/fimocore/chans/mpsc"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/worker"
)

// eventQueue is the pool-wide destination every worker forwards scheduler
// Events to: an mpsc.Queue with a futex-backed wake, the same shape as
// worker.localQueue but parameterized over *worker.Event instead of
// *task.Task. It satisfies both worker.EventSink (the producer side) and
// recv.Source (the single-consumer side), so the pool's message loop can
// park on it exactly the way a worker parks on its own queues.
type eventQueue struct {
	q       mpsc.Queue
	version atomic.Uint64
	table   *futex.Table
}

func newEventQueue(table *futex.Table) *eventQueue {
	return &eventQueue{table: table}
}

// Push satisfies worker.EventSink.
func (e *eventQueue) Push(n *mpsc.Node) bool {
	ok := e.q.Push(n)
	if ok {
		e.version.Add(1)
		e.table.Wake(e.Key(), 1, futex.AnyToken)
	}
	return ok
}

// TryPop satisfies recv.Source.
func (e *eventQueue) TryPop() (*worker.Event, bool) {
	n := e.q.Pop()
	if n == nil {
		return nil, false
	}
	return worker.EventFromNode(n), true
}

func (e *eventQueue) Key() futex.Addr { return futex.Uint64Key(&e.version) }

func (e *eventQueue) Closed() bool { return e.q.Closed() }

// Close marks the queue closed and wakes the parked message loop so it can
// observe the closure.
func (e *eventQueue) Close() {
	e.q.Close()
	e.version.Add(1)
	e.table.Wake(e.Key(), 1, futex.AnyToken)
}

var _ worker.EventSink = (*eventQueue)(nil)
