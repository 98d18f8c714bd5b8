// Package task implements the cooperatively scheduled unit of work
// described in spec §3/§4.2/§4.5: a task owns a pooled stack, a context
// snapshot used for switches, optional task-local storage, a tracing
// call-stack handle, and a small state machine. See SPEC_FULL.md §6.2 for
// why a goroutine plus a synchronous channel rendezvous is this package's
// realization of the spec's context-switch primitive.
package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fimoengine/fimocore/chans/mpsc"
	"github.com/fimoengine/fimocore/cmdbuf"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/internal/stack"
	"github.com/fimoengine/fimocore/trace"
)

// State is one of the five lifecycle states a Task passes through (spec
// §3, Task: "State: one of {init, running, parked, completed, aborted}").
type State uint32

const (
	Init State = iota
	Running
	Parked
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Running:
		return "running"
	case Parked:
		return "parked"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Unpinned is the Affinity value meaning "any worker may run this task".
const Unpinned int32 = -1

// Body is a task's entry point. It runs on its own goroutine and may call
// DoYield/DoSleep/DoWait on the *Task passed to it at any cooperative
// suspension point. A non-nil return is stored as the task's LastError and
// reported to the worker as a Complete message with IsError set; a panic is
// caught by run and reported as Abort.
type Body func(t *Task) error

// Task is a single cooperatively scheduled unit of work (spec §3). The
// embedded mpsc.Node is the intrusive link used to queue a Task on a
// worker's local MPSC; it must be the first field so a *mpsc.Node popped
// from a queue can be reinterpreted as a *Task (see worker.taskFromNode).
type Task struct {
	mpsc.Node

	ID        uint64
	CmdBuf    *cmdbuf.Buffer
	Affinity  int32 // Unpinned, or a worker index once bound
	CallStack *trace.CallStack
	Stack     *stack.Stack

	Locals locals

	// PendingResume is the Resume payload the next SwitchTo call delivers.
	// Whoever re-dispatches a parked task (worker, for an already-elapsed
	// deadline; pool, for a timer or futex wait that resolves later) sets
	// this first, so DoSleep/DoWait can report a real timeout instead of
	// always reporting false. A task is only ever driven by one worker at a
	// time, so this needs no synchronization beyond what the ready-queue
	// push/pop already provides.
	PendingResume Resume

	state atomic.Uint32

	lastErrMu sync.Mutex
	lastErr   error

	body      Body
	resumeCh  chan Resume
	yieldCh   chan Message
	startOnce sync.Once
}

// New constructs a Task in state Init. The caller supplies the stack and
// call-stack handle it obtained from the pool's stack/trace registries.
func New(id uint64, cmdBuf *cmdbuf.Buffer, st *stack.Stack, cs *trace.CallStack, body Body) *Task {
	t := &Task{
		ID:        id,
		CmdBuf:    cmdBuf,
		Affinity:  Unpinned,
		CallStack: cs,
		Stack:     st,
		body:      body,
		resumeCh:  make(chan Resume),
		yieldCh:   make(chan Message),
	}
	t.state.Store(uint32(Init))
	return t
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// SetState is called by the worker currently driving this task to record a
// lifecycle transition; it is never called concurrently with itself because
// a task is only ever active on one worker at a time (spec §5, "tasks are
// never migrated across workers once bound").
func (t *Task) SetState(s State) {
	t.state.Store(uint32(s))
}

// LastError returns the error most recently recorded in the task's local
// result slot (spec §3: "Local result slot for its most recent error").
func (t *Task) LastError() error {
	t.lastErrMu.Lock()
	defer t.lastErrMu.Unlock()
	return t.lastErr
}

func (t *Task) setLastError(err error) {
	t.lastErrMu.Lock()
	t.lastErr = err
	t.lastErrMu.Unlock()
}

// CancelRequested reports whether this task's command buffer has been
// cancelled. Well-behaved task bodies poll this at suspension points.
func (t *Task) CancelRequested() bool {
	return t.CmdBuf.CancelRequested()
}

// run is the task's goroutine entry point (spec §4.2's entry trampoline).
// It recovers a panicking body as an Abort, otherwise reports Complete with
// IsError set from the body's returned error.
func (t *Task) run() {
	defer t.Locals.destroyAll()

	var msg Message
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.setLastError(fmt.Errorf("task: aborted: %v", r))
				msg = Message{Kind: Abort, IsError: true}
			}
		}()
		err := t.body(t)
		if err != nil {
			t.setLastError(err)
		}
		msg = Message{Kind: Complete, IsError: err != nil}
	}()

	t.yieldCh <- msg
}

// Yield hands control back to the worker currently driving this task,
// carrying msg as the TaskMessage it interprets, and blocks until the
// worker resumes it. This is the realization of §4.2's yield_to: the
// channel send happens-before the paired receive, which is exactly the
// acquire/release pairing the spec requires of a context switch.
func (t *Task) Yield(msg Message) Resume {
	t.yieldCh <- msg
	return <-t.resumeCh
}

// DoYield is sugar for a plain cooperative yield with no payload.
func (t *Task) DoYield() {
	t.Yield(Message{Kind: Yield})
}

// DoSleep yields with a Sleep message and reports whether the eventual
// resume was due to the deadline elapsing (always true for Sleep; the
// field exists for symmetry with DoWait).
func (t *Task) DoSleep(deadline time.Time) bool {
	return t.Yield(Message{Kind: Sleep, Deadline: deadline}).TimedOut
}

// DoWait yields with a Wait message describing a futex address/expected
// pair, and reports whether the resume was due to the deadline (if any)
// elapsing rather than a wake/requeue.
func (t *Task) DoWait(addr futex.Addr, expected uint64, token futex.Token, deadline time.Time) bool {
	return t.Yield(Message{
		Kind:     Wait,
		Addr:     addr,
		Expected: expected,
		Token:    token,
		Deadline: deadline,
	}).TimedOut
}
