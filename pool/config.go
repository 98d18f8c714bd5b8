package pool

import "github.com/fimoengine/fimocore/internal/stack"

// Config configures a Pool (spec §6's configuration options list).
type Config struct {
	// Label is an opaque diagnostic name, surfaced through tracing and logs.
	Label string

	// WorkerCount is the number of worker threads to start. Zero selects
	// runtime.NumCPU().
	WorkerCount int

	// Stacks are the size classes the pool's stack allocator serves
	// Enqueue's stack requests from. At least one is required.
	Stacks []stack.Class

	// CmdBufCapacity is carried in Config only: Pool does not read it, and
	// command buffers are heap-allocated per Enqueue call without any
	// inline-capacity sizing.
	CmdBufCapacity int

	// MaxLoadFactor bounds the futex table's average bucket occupancy
	// before a rehash would be warranted. The table in this package is
	// fixed-size (see DESIGN.md); MaxLoadFactor is retained in Config and
	// surfaced via Pool.MaxLoadFactor so callers can still reason about and
	// report on table pressure.
	MaxLoadFactor float64

	// IsQueryable registers the pool with QueryPools, which reports its
	// label and worker count to diagnostic tooling.
	IsQueryable bool
}
