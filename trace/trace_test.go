package trace

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	pushes []string
	pops   []string
	events []string
}

func (r *recordingSubscriber) OnSpanPush(cs *CallStack, s Span) { r.pushes = append(r.pushes, s.Name) }
func (r *recordingSubscriber) OnSpanPop(cs *CallStack, s Span)  { r.pops = append(r.pops, s.Name) }
func (r *recordingSubscriber) OnEvent(cs *CallStack, e Event)   { r.events = append(r.events, e.Message) }

func TestRegistry_PushPopNotifiesSubscribers(t *testing.T) {
	r := NewRegistry()
	rec := &recordingSubscriber{}
	r.Subscribe(rec)

	cs := r.Create()
	r.PushSpan(cs, Span{Name: "outer"})
	r.PushSpan(cs, Span{Name: "inner"})
	popped := r.PopSpan(cs)
	require.Equal(t, "inner", popped.Name)
	r.PopSpan(cs)

	require.Equal(t, []string{"outer", "inner"}, rec.pushes)
	require.Equal(t, []string{"inner", "outer"}, rec.pops)
}

func TestRegistry_PopEmptyPanics(t *testing.T) {
	r := NewRegistry()
	cs := r.Create()
	require.Panics(t, func() { r.PopSpan(cs) })
}

func TestRegistry_EmitReachesSubscribers(t *testing.T) {
	r := NewRegistry()
	rec := &recordingSubscriber{}
	r.Subscribe(rec)
	cs := r.Create()

	r.Emit(cs, Event{Category: "scheduler", Message: "task parked"})
	require.Equal(t, []string{"task parked"}, rec.events)
}

func TestRegistry_ScavengeReclaimsGCdCallStacks(t *testing.T) {
	r := NewRegistry()
	func() {
		r.Create() // never retained; eligible for GC once this returns
	}()

	runtime.GC()
	r.Scavenge(16)

	r.mu.RLock()
	defer r.mu.RUnlock()
	require.Empty(t, r.entries)
}

func TestRegistry_DestroyRemovesEntry(t *testing.T) {
	r := NewRegistry()
	cs := r.Create()
	r.Destroy(cs)

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[cs.ID()]
	require.False(t, ok)
}

func TestRegistry_RegisterUnregisterThread(t *testing.T) {
	r := NewRegistry()

	h1 := r.RegisterThread("worker-0")
	h2 := r.RegisterThread("worker-1")
	require.ElementsMatch(t, []string{"worker-0", "worker-1"}, r.Threads())

	r.UnregisterThread(h1)
	require.Equal(t, []string{"worker-1"}, r.Threads())

	r.UnregisterThread(h2)
	require.Empty(t, r.Threads())

	// Safe to call with nil or a handle already removed.
	r.UnregisterThread(nil)
	r.UnregisterThread(h1)
}
