// Package fimocore is the root of a user-space cooperative task runtime:
// a pool of worker threads running tasks that switch contexts through
// channel rendezvous, a futex-style address-keyed wait/wake table, and a
// family of lock-free channels (mpsc, bounded/unbounded spmc, and a
// multi-receiver combinator over them). Context is the reference-counted
// handle spec §4.1 describes: the thing every subsystem accessor hangs off.
package fimocore

import (
	"context"

	"github.com/fimoengine/fimocore/cmdbuf"
	"github.com/fimoengine/fimocore/futex"
	"github.com/fimoengine/fimocore/internal/refcount"
	"github.com/fimoengine/fimocore/pool"
	"github.com/fimoengine/fimocore/trace"
)

// Version is the current ABI version this Context implements. Bumped for
// every incompatible interface change; Context.CheckVersion is how a caller
// asks "are you at least version N".
const Version uint64 = 1

// TracingAPI is the subset of Context that deals with call-stack tracing
// (spec §6's "Tracing" VTable group).
type TracingAPI interface {
	Tracer() *trace.Registry
}

// PoolAPI is the subset of Context that deals with task submission (spec
// §6's "Pool" VTable group).
type PoolAPI interface {
	Enqueue(specs []pool.TaskSpec) (*cmdbuf.Buffer, error)
	WorkerCount() int
}

// CommandBufferAPI is the subset of Context for inspecting/controlling a
// previously submitted batch (spec §6's "Command buffer" VTable group).
// Join only delegates to the buffer's own Join: a command buffer already
// carries its own Join/Cancel/Detach methods, so this exists only to give
// the group a named surface for documentation purposes.
type CommandBufferAPI interface {
	Join(buf *cmdbuf.Buffer, ctx context.Context) error
}

// FutexAPI is the subset of Context exposing the address-keyed wait table
// directly, for callers building their own synchronization primitives on
// top of a task's DoWait (spec §6's "Futex" VTable group).
type FutexAPI interface {
	Wake(addr futex.Addr, maxWake int, filter futex.Filter) int
}

// Context is the ABI-stable handle described in spec §4.1: a single
// reference-counted object a caller acquires once and uses to reach every
// subsystem. Where the original described extending a C VTable without
// breaking existing callers, this translation leans on Go's interface
// satisfaction: adding a method to Context (or one of its groups) is
// source- and binary-compatible with every existing caller that only calls
// the methods it already knew about.
type Context interface {
	TracingAPI
	PoolAPI
	CommandBufferAPI
	FutexAPI

	// CheckVersion reports an error if this Context implements a version
	// lower than required (spec §4.1: "first slot is check_version").
	CheckVersion(required uint64) error

	// Ref increments the context's reference count. Pairs with Unref.
	Ref()

	// Unref decrements the reference count and releases the underlying
	// pool once it reaches zero. Safe to call from any goroutine holding a
	// reference; exactly one call across all holders tears the pool down.
	Unref()
}

type ctx struct {
	refs *refcount.Counter
	pool *pool.Pool
}

// NewContext constructs a Context wrapping a freshly built Pool from cfg.
// The returned Context starts with a reference count of 1.
func NewContext(cfg pool.Config) (Context, error) {
	p, err := pool.New(cfg)
	if err != nil {
		return nil, err
	}
	return &ctx{refs: refcount.New(), pool: p}, nil
}

func (c *ctx) CheckVersion(required uint64) error {
	if required > Version {
		return &VersionNotSupportedError{Required: required, Actual: Version}
	}
	return nil
}

func (c *ctx) Ref() { c.refs.Ref() }

func (c *ctx) Unref() {
	if c.refs.Unref() {
		c.pool.Close()
	}
}

func (c *ctx) Tracer() *trace.Registry { return c.pool.Tracer() }

func (c *ctx) Enqueue(specs []pool.TaskSpec) (*cmdbuf.Buffer, error) {
	return c.pool.Enqueue(specs)
}

func (c *ctx) WorkerCount() int { return c.pool.WorkerCount() }

func (c *ctx) Join(buf *cmdbuf.Buffer, goCtx context.Context) error {
	return buf.Join(goCtx)
}

func (c *ctx) Wake(addr futex.Addr, maxWake int, filter futex.Filter) int {
	return c.pool.Wake(addr, maxWake, filter)
}
