package task

import (
	"sync"
	"unsafe"
)

// Key identifies a slot in a task's local storage. Any distinct pointer
// works; the common pattern is a package-level `var myKey task.Key` whose
// address is the identity.
type Key = *int

// localEntry pairs a stored value with an optional destructor run when the
// task exits or the slot is explicitly cleared.
type localEntry struct {
	value     unsafe.Pointer
	destroy   func(unsafe.Pointer)
	hasDestroy bool
}

// locals is task-local storage: a mapping from opaque key pointer to
// {value pointer, optional destructor}, replacing thread-local access from
// within a task body (spec §9, Design Notes).
type locals struct {
	mu      sync.Mutex
	entries map[Key]localEntry
}

// Set stores value under key, replacing (and destroying, if it had a
// destructor) any prior value.
func (l *locals) Set(key Key, value unsafe.Pointer, destroy func(unsafe.Pointer)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = make(map[Key]localEntry)
	}
	if old, ok := l.entries[key]; ok && old.hasDestroy {
		old.destroy(old.value)
	}
	l.entries[key] = localEntry{value: value, destroy: destroy, hasDestroy: destroy != nil}
}

// Get returns the value stored under key, or nil and false if unset.
func (l *locals) Get(key Key) (unsafe.Pointer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Clear removes key's value, invoking its destructor if it has one. A no-op
// if key was never set.
func (l *locals) Clear(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	if e.hasDestroy {
		e.destroy(e.value)
	}
	delete(l.entries, key)
}

// destroyAll runs every remaining destructor, in unspecified order, and
// empties the map. Called once when the owning task exits.
func (l *locals) destroyAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.hasDestroy {
			e.destroy(e.value)
		}
	}
	l.entries = nil
}
