// Package trace implements the tracing subsystem surface described in spec
// §4.1/§6: call-stack handle lifecycle, span push/pop, event emission, and
// worker-thread registration. Back-end subscribers are external
// collaborators — this package only defines the surface and a registry of
// live call stacks, grounded on the eventloop package's weak-pointer
// scavenging registry (registry.go).
package trace

import (
	"sync"
	"weak"

	"github.com/fimoengine/fimocore/internal/obs"
)

// Span is one entry on a CallStack: a named region of work, pushed on entry
// and popped on exit.
type Span struct {
	Name string
}

// Event is a point-in-time occurrence emitted against a CallStack (e.g. a
// scheduler decision, a futex wake). Subscribers decide what, if anything,
// to do with it.
type Event struct {
	Category string
	Message  string
	Fields   map[string]any
}

// Subscriber receives span and event notifications as they occur. The
// default Subscriber forwards to internal/obs's package-level logger;
// callers may register additional ones (e.g. to feed an external profiler).
type Subscriber interface {
	OnSpanPush(cs *CallStack, s Span)
	OnSpanPop(cs *CallStack, s Span)
	OnEvent(cs *CallStack, e Event)
}

// logSubscriber forwards trace activity to the package-level structured
// logger, mirroring how the eventloop package treats logging as ambient
// infrastructure rather than a per-call-site concern.
type logSubscriber struct{}

func (logSubscriber) OnSpanPush(cs *CallStack, s Span) {
	obs.Logger().Debug().Int64("call_stack", int64(cs.id)).Str("span", s.Name).Log("span push")
}

func (logSubscriber) OnSpanPop(cs *CallStack, s Span) {
	obs.Logger().Debug().Int64("call_stack", int64(cs.id)).Str("span", s.Name).Log("span pop")
}

func (logSubscriber) OnEvent(cs *CallStack, e Event) {
	b := obs.Logger().Info().Int64("call_stack", int64(cs.id)).Str("category", e.Category)
	for k, v := range e.Fields {
		b = b.Interface(k, v)
	}
	b.Log(e.Message)
}

// CallStack is a per-task (or per-worker-thread) logical span stack, a
// tracing concept distinct from the task's machine stack.
type CallStack struct {
	id     uint64
	mu     sync.Mutex
	spans  []Span
	active bool
}

// ID returns the call stack's registry identifier.
func (cs *CallStack) ID() uint64 { return cs.id }

// Registry tracks live CallStacks with weak pointers, so a CallStack whose
// owning task has been destroyed without explicit Destroy is still
// eventually reclaimed rather than leaking a registry entry forever.
type Registry struct {
	mu           sync.RWMutex
	subscribers  []Subscriber
	entries      map[uint64]weak.Pointer[CallStack]
	ring         []uint64
	head         int
	nextID       uint64
	threads      map[uint64]string
	nextThreadID uint64
}

// NewRegistry constructs a Registry with the default log-forwarding
// subscriber installed.
func NewRegistry() *Registry {
	return &Registry{
		entries:      make(map[uint64]weak.Pointer[CallStack]),
		ring:         make([]uint64, 0, 256),
		nextID:       1,
		subscribers:  []Subscriber{logSubscriber{}},
		threads:      make(map[uint64]string),
		nextThreadID: 1,
	}
}

// ThreadHandle identifies one worker thread registered with a Registry.
type ThreadHandle struct {
	id uint64
}

// RegisterThread records label as a live worker thread (spec §6's tracing
// group: "register/unregister thread"), for diagnostic tooling that wants to
// enumerate active workers independently of any particular CallStack. The
// returned handle must be passed to UnregisterThread on thread exit.
func (r *Registry) RegisterThread(label string) *ThreadHandle {
	r.mu.Lock()
	id := r.nextThreadID
	r.nextThreadID++
	r.threads[id] = label
	r.mu.Unlock()

	obs.Logger().Debug().Int64("thread", int64(id)).Str("label", label).Log("trace: thread registered")
	return &ThreadHandle{id: id}
}

// UnregisterThread removes the thread h identifies. Safe to call with nil.
func (r *Registry) UnregisterThread(h *ThreadHandle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	label := r.threads[h.id]
	delete(r.threads, h.id)
	r.mu.Unlock()

	obs.Logger().Debug().Int64("thread", int64(h.id)).Str("label", label).Log("trace: thread unregistered")
}

// Threads returns the labels of every currently registered thread, in no
// particular order. Intended for diagnostic inspection.
func (r *Registry) Threads() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.threads))
	for _, label := range r.threads {
		out = append(out, label)
	}
	return out
}

// Subscribe registers an additional Subscriber.
func (r *Registry) Subscribe(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, s)
}

// Create allocates a new CallStack and registers it.
func (r *Registry) Create() *CallStack {
	cs := &CallStack{}

	r.mu.Lock()
	defer r.mu.Unlock()
	cs.id = r.nextID
	r.nextID++
	r.entries[cs.id] = weak.Make(cs)
	r.ring = append(r.ring, cs.id)
	return cs
}

// Destroy explicitly removes a CallStack from the registry. Safe to call
// more than once.
func (r *Registry) Destroy(cs *CallStack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, cs.id)
}

// Scavenge drops registry entries for garbage-collected CallStacks, a batch
// at a time, mirroring the eventloop registry's ring-buffer cursor so a full
// sweep is amortized across many calls rather than done all at once.
func (r *Registry) Scavenge(batchSize int) {
	if batchSize <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.ring)
	if n == 0 {
		return
	}
	end := r.head + batchSize
	if end > n {
		end = n
	}
	for i := r.head; i < end; i++ {
		id := r.ring[i]
		if id == 0 {
			continue
		}
		if wp, ok := r.entries[id]; ok && wp.Value() == nil {
			delete(r.entries, id)
			r.ring[i] = 0
		}
	}
	r.head = end
	if r.head >= n {
		r.head = 0
	}
}

// PushSpan pushes s onto cs and notifies subscribers.
func (r *Registry) PushSpan(cs *CallStack, s Span) {
	cs.mu.Lock()
	cs.spans = append(cs.spans, s)
	cs.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		sub.OnSpanPush(cs, s)
	}
}

// PopSpan pops the innermost span from cs and notifies subscribers. A pop
// with no matching push is a call-stack underflow, which this package
// treats as a true invariant violation (spec §7) rather than a recoverable
// error.
func (r *Registry) PopSpan(cs *CallStack) Span {
	cs.mu.Lock()
	n := len(cs.spans)
	if n == 0 {
		cs.mu.Unlock()
		panic("trace: call-stack underflow")
	}
	s := cs.spans[n-1]
	cs.spans = cs.spans[:n-1]
	cs.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		sub.OnSpanPop(cs, s)
	}
	return s
}

// Emit notifies subscribers of a point-in-time Event against cs.
func (r *Registry) Emit(cs *CallStack, e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		sub.OnEvent(cs, e)
	}
}

// Switch marks cs as the active call stack for the calling worker. It
// returns nothing and does not track which call stack was active before.
// Unlike the original's thread-local "current call stack", Go has no
// per-goroutine-identity hook without cgo, so workers carry their own
// CallStack field directly (see worker.Worker.callStack) and this method
// exists only to set cs's own active flag.
func (r *Registry) Switch(cs *CallStack) {
	cs.mu.Lock()
	cs.active = true
	cs.mu.Unlock()
}

// Suspend marks cs inactive without destroying it (the task parked).
func (r *Registry) Suspend(cs *CallStack) {
	cs.mu.Lock()
	cs.active = false
	cs.mu.Unlock()
}

// Resume marks a previously suspended cs active again.
func (r *Registry) Resume(cs *CallStack) {
	r.Switch(cs)
}

// Flush is a no-op hook for subscribers that batch output (e.g. an
// io.Writer-backed logger); present for API-surface completeness (spec
// §6's tracing group lists "flush").
func (r *Registry) Flush() {}
