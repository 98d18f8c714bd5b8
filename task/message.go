package task

import (
	"time"

	"github.com/fimoengine/fimocore/futex"
)

// MessageKind identifies which variant of Message a task handed back to its
// worker on yield (spec §4.5 worker event loop, step 3).
type MessageKind int

const (
	// Complete means the task's body returned normally.
	Complete MessageKind = iota
	// Abort means the task's body returned by way of a panic/forced abort.
	Abort
	// Yield means the task wants to go back to the end of its worker's
	// local run queue without otherwise changing state.
	Yield
	// Sleep means the task wants to resume no earlier than Deadline.
	Sleep
	// Wait means the task wants to park on a futex address until woken,
	// requeued, or Deadline elapses.
	Wait
)

// Message is the value a task places "on its stack" (in this realization,
// sends across the rendezvous channel) when it yields control back to its
// worker. Only the fields belonging to the variant selected by Kind are
// meaningful.
type Message struct {
	Kind MessageKind

	// IsError is set on Complete/Abort to report the task's outcome.
	IsError bool

	// Deadline is set on Sleep and optionally on Wait.
	Deadline time.Time

	// Addr, Expected and Token are set on Wait; they mirror futex.Wait's
	// parameters so the worker can forward them to the pool unchanged.
	Addr     futex.Addr
	Expected uint64
	Token    futex.Token

	// TimedOut is not set by the worker or pool: a resumed task learns
	// whether its Wait or Sleep timed out from Resume.TimedOut instead.
	TimedOut bool
}

// Resume is the value sent back into a parked task when its worker resumes
// it (spec §4.2 Transfer: "carries the previous context and a user data
// word"). Here the user data word is just whether the wait/sleep it was
// parked on timed out.
type Resume struct {
	TimedOut bool
}
