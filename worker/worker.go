// Package worker implements the per-thread event loop described in spec
// §4.5: each worker blocks on a multi-receiver over its own local queue and
// the pool-wide ready queue, restores whichever task it receives, and
// interprets the TaskMessage the task yields back. The loop shape —
// receive, dispatch, interpret result, repeat — is grounded on the
// eventloop package's Loop.run/tick pair.
package worker

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fimoengine/fimocore/chans/mpsc"
	"github.com/fimoengine/fimocore/chans/recv"
	"github.com/fimoengine/fimocore/chans/uspmc"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/internal/obs"
	"github.com/fimoengine/fimocore/task"
	"github.com/fimoengine/fimocore/trace"
)

// localQueue wraps a worker-private mpsc.Queue of *task.Task with a futex
// key (a version counter bumped on every push, since plain mpsc.Queue has
// no wake mechanism of its own) so it can take part in a recv.Group
// alongside the pool-wide global queue.
type localQueue struct {
	q       mpsc.Queue
	version atomic.Uint64
	pending atomic.Int64
	table   *futex.Table
}

func newLocalQueue(table *futex.Table) *localQueue {
	return &localQueue{table: table}
}

func taskFromNode(n *mpsc.Node) *task.Task { return (*task.Task)(unsafe.Pointer(n)) }

// Push enqueues tk and wakes one parked consumer of this worker's key, if
// any (there is at most one: the worker itself).
func (l *localQueue) Push(tk *task.Task) {
	l.q.Push(&tk.Node)
	l.pending.Add(1)
	l.version.Add(1)
	l.table.Wake(l.Key(), 1, futex.AnyToken)
}

func (l *localQueue) TryPop() (*task.Task, bool) {
	n := l.q.Pop()
	if n == nil {
		return nil, false
	}
	l.pending.Add(-1)
	return taskFromNode(n), true
}

func (l *localQueue) Key() futex.Addr { return futex.Uint64Key(&l.version) }

func (l *localQueue) Closed() bool { return l.q.Closed() }

// Close marks the queue closed and wakes the parked worker so it can observe
// the closure.
func (l *localQueue) Close() {
	l.q.Close()
	l.version.Add(1)
	l.table.Wake(l.Key(), 1, futex.AnyToken)
}

// Len reports the number of tasks currently queued locally. Racy by
// construction; used only for the load-balancing skew rule.
func (l *localQueue) Len() int64 { return l.pending.Load() }

// Worker drives one OS thread's worth of cooperative tasks (spec §3,
// Worker). It has no mutable state shared with other workers except the
// queues and the pool's futex table, matching spec §5's isolation claim.
type Worker struct {
	Index int

	local       *localQueue
	global      *uspmc.Channel[*task.Task]
	localFirst  *recv.Group[*task.Task]
	globalFirst *recv.Group[*task.Task]
	workerCount int

	table    *futex.Table
	tracer   *trace.Registry
	poolMsgs EventSink

	callStack *trace.CallStack
}

// EventSink is the pool-wide destination Events are forwarded to. A plain
// *mpsc.Queue satisfies this directly; the pool wraps one with a futex wake
// so its single consumer isn't left polling (see pool.eventQueue).
type EventSink interface {
	Push(n *mpsc.Node) bool
}

// New constructs a Worker at the given pool index. global is the pool-wide
// ready queue shared by every worker; poolMsgs is the pool-wide sink that
// scheduler Events are forwarded to; workerCount is used by the
// load-balancing skew rule (spec §4.5 step 1).
func New(index, workerCount int, global *uspmc.Channel[*task.Task], table *futex.Table, tracer *trace.Registry, poolMsgs EventSink) *Worker {
	local := newLocalQueue(table)
	w := &Worker{
		Index:       index,
		local:       local,
		global:      global,
		workerCount: workerCount,
		table:       table,
		tracer:      tracer,
		poolMsgs:    poolMsgs,
	}
	w.localFirst = recv.NewGroup[*task.Task](table, local, global)
	w.globalFirst = recv.NewGroup[*task.Task](table, global, local)
	return w
}

// PushLocal enqueues tk directly onto this worker's private queue, for a
// task pinned to this worker (spec §4.5 enqueue step 4: "pushes pinned
// tasks onto the target worker's intrusive MPSC").
func (w *Worker) PushLocal(tk *task.Task) {
	w.local.Push(tk)
}

// Close stops this worker's local queue from accepting further pushes.
// Already-queued tasks are still run; the event loop exits once both the
// local queue and the global queue report Closed and empty.
func (w *Worker) Close() {
	w.local.Close()
}

// preferredGroup implements the load-balancing skew rule: consult the
// global queue first when it is sufficiently backed up relative to this
// worker's share, otherwise prefer the local queue.
func (w *Worker) preferredGroup() *recv.Group[*task.Task] {
	if w.workerCount > 0 {
		globalCount := float64(w.global.Len())
		localCount := float64(w.local.Len())
		if globalCount/float64(w.workerCount) > localCount {
			return w.globalFirst
		}
	}
	return w.localFirst
}

// Run executes the worker's event loop until both its local queue and the
// pool-wide global queue are closed and drained. It should be invoked on
// its own goroutine (standing in for the dedicated OS thread spec §3
// describes).
func (w *Worker) Run() {
	w.callStack = w.tracer.Create()
	defer w.tracer.Destroy(w.callStack)

	thread := w.tracer.RegisterThread(fmt.Sprintf("worker-%d", w.Index))
	defer w.tracer.UnregisterThread(thread)

	for {
		tk, ok, err := w.recvNext()
		if err != nil {
			// Recv already retries ErrInvalid itself and, with no
			// deadline, never times out; any other error goes around again.
			continue
		}
		if !ok {
			return
		}
		w.drive(tk)
	}
}

func (w *Worker) recvNext() (*task.Task, bool, error) {
	g := w.preferredGroup()
	if tk, ok := g.TryRecv(); ok {
		return tk, true, nil
	}
	if g.Closed() {
		return nil, false, nil
	}
	return g.Recv(time.Time{})
}

// drive binds tk to this worker if it was previously unpinned, switches
// the tracing call stack, and hands control to the task, then interprets
// whatever TaskMessage it yields back (spec §4.5 worker event loop, steps
// 2-3).
func (w *Worker) drive(tk *task.Task) {
	if tk.Affinity == task.Unpinned {
		tk.Affinity = int32(w.Index)
	}
	tk.SetState(task.Running)
	if tk.CallStack != nil {
		w.tracer.Switch(tk.CallStack)
	}

	resume := tk.PendingResume
	tk.PendingResume = task.Resume{}
	msg := tk.SwitchTo(resume)
	w.handle(tk, msg)
}

func (w *Worker) handle(tk *task.Task, msg task.Message) {
	switch msg.Kind {
	case task.Complete, task.Abort:
		tk.SetState(completionState(msg.Kind))
		w.postEvent(&Event{Kind: Complete, Task: tk, IsError: msg.IsError})

	case task.Yield:
		tk.SetState(task.Init)
		w.local.Push(tk)

	case task.Sleep:
		if msg.Deadline.IsZero() || !msg.Deadline.After(time.Now()) {
			tk.PendingResume = task.Resume{TimedOut: true}
			w.local.Push(tk)
			return
		}
		tk.SetState(task.Parked)
		if tk.CallStack != nil {
			w.tracer.Suspend(tk.CallStack)
		}
		w.postEvent(&Event{Kind: Sleep, Task: tk, Deadline: msg.Deadline})

	case task.Wait:
		if !msg.Deadline.IsZero() && !msg.Deadline.After(time.Now()) {
			tk.PendingResume = task.Resume{TimedOut: true}
			w.local.Push(tk)
			return
		}
		tk.SetState(task.Parked)
		if tk.CallStack != nil {
			w.tracer.Suspend(tk.CallStack)
		}
		w.postEvent(&Event{
			Kind:     Wait,
			Task:     tk,
			Addr:     msg.Addr,
			Expected: msg.Expected,
			Token:    msg.Token,
			Deadline: msg.Deadline,
		})

	default:
		obs.Logger().Err().Int("kind", int(msg.Kind)).Log("worker: unknown task message kind")
	}
}

func completionState(k task.MessageKind) task.State {
	if k == task.Abort {
		return task.Aborted
	}
	return task.Completed
}

func (w *Worker) postEvent(e *Event) {
	w.poolMsgs.Push(&e.Node)
}
