package worker

import (
	"time"
	"unsafe"

	"github.com/fimoengine/fimocore/chans/mpsc"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/task"
)

// EventKind identifies which scheduler record a worker forwarded to the
// pool's message loop (spec §4.5, "pool-wide intrusive MPSC of scheduler
// messages from workers").
type EventKind int

const (
	// Complete reports that a task finished (successfully or not).
	Complete EventKind = iota
	// Sleep reports that a task parked until a deadline.
	Sleep
	// Wait reports that a task parked on a futex address.
	Wait
)

// Event is one scheduler record, queued intrusively on the pool-wide MPSC
// the same way a Task is queued on a worker-local MPSC: the embedded
// mpsc.Node must stay the first field.
type Event struct {
	mpsc.Node

	Kind EventKind
	Task *task.Task

	// IsError is set on Complete.
	IsError bool

	// Deadline is set on Sleep and optionally on Wait.
	Deadline time.Time

	// Addr, Expected, Token are set on Wait.
	Addr     futex.Addr
	Expected uint64
	Token    futex.Token
}

// EventFromNode reinterprets a *mpsc.Node popped from the pool-wide message
// queue back into the *Event it was pushed as.
func EventFromNode(n *mpsc.Node) *Event {
	return (*Event)(unsafe.Pointer(n))
}
