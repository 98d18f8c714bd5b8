// Package pool implements the scheduler root described in spec §3/§4.5: it
// owns the worker vector, the pool-wide ready queue tasks are submitted
// into, the shared futex table and timer wheel workers park against, and
// the message loop that turns a worker's reported Events (completion,
// sleep, wait) back into further scheduling decisions.
package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fimoengine/fimocore/chans/recv"
	"github.com/fimoengine/fimocore/chans/uspmc"
	"github.com/fimoengine/fimocore/cmdbuf"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/internal/affinity"
	"github.com/fimoengine/fimocore/internal/ferrors"
	"github.com/fimoengine/fimocore/internal/obs"
	"github.com/fimoengine/fimocore/internal/stack"
	"github.com/fimoengine/fimocore/task"
	"github.com/fimoengine/fimocore/timer"
	"github.com/fimoengine/fimocore/trace"
	"github.com/fimoengine/fimocore/worker"
)

// defaultFutexBuckets sizes the shared wait-table for the common case of a
// handful of workers each with one key plus however many tasks are parked on
// caller-supplied addresses. futex.NewTable rounds it up to the next power
// of two (256).
const defaultFutexBuckets = 251

// TaskSpec describes one task to submit through Enqueue.
type TaskSpec struct {
	// Body is the task's entry point.
	Body task.Body
	// Affinity is task.Unpinned, or the index of a worker this task must
	// run on exclusively.
	Affinity int32
	// StackSize requests a stack of at least this many bytes; zero selects
	// the smallest configured class.
	StackSize int
}

// Pool owns a fixed set of workers, a pool-wide ready queue, and the shared
// futex table, timer wheel, stack allocator, and tracing registry they all
// draw on (spec §3, Pool).
type Pool struct {
	label         string
	isQueryable   bool
	queryID       uint64
	maxLoadFactor float64

	workers []*worker.Worker
	global  *uspmc.Channel[*task.Task]

	table  *futex.Table
	timers *timer.Wheel
	tracer *trace.Registry
	stacks *stack.Pool

	events      *eventQueue
	eventsGroup *recv.Group[*worker.Event]

	nextTaskID atomic.Uint64

	workerWG sync.WaitGroup
	msgWG    sync.WaitGroup
	taskWG   sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a Pool from cfg, starts its workers, and starts the message
// loop that dispatches their reported Events (spec §6's pool construction).
// A zero WorkerCount selects runtime.NumCPU().
func New(cfg Config) (*Pool, error) {
	if cfg.WorkerCount < 0 {
		return nil, &ferrors.InvalidConfigError{Message: "worker count must be >= 0"}
	}
	if len(cfg.Stacks) == 0 {
		return nil, &ferrors.InvalidConfigError{Message: "at least one stack class is required"}
	}

	workerCount := cfg.WorkerCount
	if workerCount == 0 {
		workerCount = runtime.NumCPU()
	}

	stacks, err := stack.NewPool(cfg.Stacks)
	if err != nil {
		return nil, fmt.Errorf("pool: building stack pool: %w", err)
	}

	table := futex.NewTable(defaultFutexBuckets)
	p := &Pool{
		label:         cfg.Label,
		isQueryable:   cfg.IsQueryable,
		maxLoadFactor: cfg.MaxLoadFactor,
		table:         table,
		timers:        timer.New(),
		tracer:        trace.NewRegistry(),
		stacks:        stacks,
		global:        uspmc.New[*task.Task](table),
		events:        newEventQueue(table),
	}
	p.eventsGroup = recv.NewGroup[*worker.Event](table, p.events)

	p.workers = make([]*worker.Worker, workerCount)
	for i := range p.workers {
		p.workers[i] = worker.New(i, workerCount, p.global, table, p.tracer, p.events)
	}

	if p.isQueryable {
		p.queryID = registerQueryable(p)
	}

	p.workerWG.Add(len(p.workers))
	for i, w := range p.workers {
		go func(i int, w *worker.Worker) {
			defer p.workerWG.Done()
			if err := affinity.Pin(i); err == nil {
				defer affinity.Unpin()
			}
			w.Run()
		}(i, w)
	}

	p.msgWG.Add(1)
	go func() {
		defer p.msgWG.Done()
		p.messageLoop()
	}()

	obs.Logger().Info().Str("label", p.label).Int("workers", workerCount).Log("pool: started")
	return p, nil
}

// Label returns the pool's configured diagnostic label.
func (p *Pool) Label() string { return p.label }

// IsQueryable reports whether this pool was configured for diagnostic
// inspection.
func (p *Pool) IsQueryable() bool { return p.isQueryable }

// MaxLoadFactor returns the configured futex table load-factor bound (see
// Config.MaxLoadFactor).
func (p *Pool) MaxLoadFactor() float64 { return p.maxLoadFactor }

// WorkerCount returns the number of workers this pool started with.
func (p *Pool) WorkerCount() int { return len(p.workers) }

// Tracer returns the pool's call-stack tracing registry, for callers that
// want to subscribe to span/event notifications directly.
func (p *Pool) Tracer() *trace.Registry { return p.tracer }

// Wake wakes up to maxWake waiters parked on addr whose token satisfies
// filter, exposing the pool's shared futex table for callers building their
// own synchronization on top of task.DoWait.
func (p *Pool) Wake(addr futex.Addr, maxWake int, filter futex.Filter) int {
	return p.table.Wake(addr, maxWake, filter)
}

// Enqueue submits specs as a single batch sharing one command buffer (spec
// §4.5's enqueue path): a stack, call-stack, and id are allocated per task,
// then unpinned tasks are pushed to the global ready queue and pinned tasks
// to their target worker's local queue. The returned Buffer tracks the
// batch's shared completion/cancellation fate.
func (p *Pool) Enqueue(specs []TaskSpec) (*cmdbuf.Buffer, error) {
	if p.closed.Load() {
		return nil, &ferrors.ClosedError{Message: "pool is closed"}
	}
	if len(specs) == 0 {
		return nil, &ferrors.InvalidConfigError{Message: "at least one task is required"}
	}
	for _, s := range specs {
		if s.Affinity != task.Unpinned && (s.Affinity < 0 || int(s.Affinity) >= len(p.workers)) {
			return nil, &ferrors.InvalidConfigError{Message: fmt.Sprintf("affinity %d out of range", s.Affinity)}
		}
	}

	buf := cmdbuf.New(len(specs))
	tasks := make([]*task.Task, len(specs))
	for i, spec := range specs {
		st, err := p.stacks.Allocate(spec.StackSize)
		if err != nil {
			for _, tk := range tasks[:i] {
				tk.Stack.Release()
				p.tracer.Destroy(tk.CallStack)
			}
			return nil, fmt.Errorf("pool: allocating stack: %w", err)
		}
		cs := p.tracer.Create()
		id := p.nextTaskID.Add(1)
		tk := task.New(id, buf, st, cs, p.wrapBody(spec.Body))
		tk.Affinity = spec.Affinity
		tasks[i] = tk
	}

	p.taskWG.Add(len(tasks))
	for _, tk := range tasks {
		p.dispatch(tk)
	}

	return buf, nil
}

// wrapBody returns a task.Body that runs body and then, regardless of
// outcome, releases the task's stack and call-stack, reports completion to
// the command buffer, and marks the task done in the pool's
// shutdown-tracking WaitGroup. This runs synchronously in the task's own
// goroutine rather than waiting for the worker to forward a Complete event
// through the pool-wide queue, so Close's taskWG.Wait() can't race a
// teardown of that queue against an event still in flight. It runs inside
// task.run's own recover, so a panic from body still reaches this defer.
func (p *Pool) wrapBody(body task.Body) task.Body {
	return func(t *task.Task) error {
		defer func() {
			p.tracer.Destroy(t.CallStack)
			t.Stack.Release()
			t.CmdBuf.TaskCompleted()
			p.taskWG.Done()
		}()
		return body(t)
	}
}

// dispatch pushes tk onto the global queue if unpinned, or its bound
// worker's local queue otherwise.
func (p *Pool) dispatch(tk *task.Task) {
	if tk.Affinity == task.Unpinned {
		p.global.Push(tk)
	} else {
		p.workers[tk.Affinity].PushLocal(tk)
	}
}

// messageLoop is the pool's single-consumer dispatcher over the pool-wide
// event queue (spec §4.5's "pool message loop"): Complete needs no action
// (wrapBody has already reported completion to the command buffer), Sleep
// registers a timer callback that
// re-queues the task when its deadline fires, and Wait registers a futex
// wait-entry that re-queues the task on wake, requeue, or timeout.
func (p *Pool) messageLoop() {
	for {
		e, ok, err := p.eventsGroup.Recv(time.Time{})
		if err != nil {
			continue
		}
		if !ok {
			return
		}
		p.handleEvent(e)
	}
}

func (p *Pool) handleEvent(e *worker.Event) {
	switch e.Kind {
	case worker.Complete:
		// Completion is already reported synchronously by wrapBody; this
		// event exists for observability (diagnostic tooling watching the
		// pool-wide message stream) rather than as a required action.

	case worker.Sleep:
		tk := e.Task
		p.timers.Schedule(e.Deadline, func() {
			tk.SetState(task.Init)
			tk.PendingResume = task.Resume{TimedOut: true}
			p.dispatch(tk)
		})

	case worker.Wait:
		p.awaitFutex(e)
	}
}

// awaitFutex registers a blocking wait on its own goroutine (the futex
// table exposes Wait as a synchronous call; running it here would stall
// every other pending event) and re-queues the task once the wait resolves,
// whether by wake, requeue, or timeout, threading the real outcome into the
// task's next Resume so DoWait can report it accurately.
func (p *Pool) awaitFutex(e *worker.Event) {
	tk := e.Task
	go func() {
		err := p.table.Wait(e.Addr, e.Expected, e.Token, e.Deadline)
		tk.SetState(task.Init)
		tk.PendingResume = task.Resume{TimedOut: errors.Is(err, futex.ErrTimeout)}
		p.dispatch(tk)
	}()
}

// Close stops the pool from accepting new work, waits for every
// already-enqueued task to run to completion (workers and the message loop
// keep running so parked tasks can still make progress), then shuts the
// workers, message loop, and timer wheel down. Detach does not exempt a
// buffer's tasks from this wait — join is implicit on drop — so Close
// blocks exactly as long as the slowest outstanding task takes to
// cooperatively finish or observe cancellation.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if p.isQueryable {
			unregisterQueryable(p.queryID)
		}
		p.taskWG.Wait()

		p.global.Close()
		for _, w := range p.workers {
			w.Close()
		}
		p.workerWG.Wait()

		p.events.Close()
		p.msgWG.Wait()

		p.timers.Close()
		obs.Logger().Info().Str("label", p.label).Log("pool: closed")
	})
}
