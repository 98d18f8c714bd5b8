// Package timer implements the min-heap timer wheel backing task sleep
// deadlines (spec §4.5, "Pool message loop" / Sleep handling); futex-wait
// deadlines use their own time.AfterFunc timers in package futex.
// The heap shape mirrors the eventloop package's timerHeap: a
// container/heap ordered by deadline, with a single goroutine responsible
// for popping and firing due entries.
package timer

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// ID identifies a scheduled entry, for Cancel.
type ID uint64

type entry struct {
	id    ID
	when  time.Time
	fire  func()
	index int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a single-goroutine-driven min-heap of deadline callbacks. The
// zero value is not usable; construct with New.
type Wheel struct {
	mu      sync.Mutex
	heap    entryHeap
	entries map[ID]*entry
	nextID  atomic.Uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New starts a Wheel's background firing goroutine.
func New() *Wheel {
	w := &Wheel{
		entries: make(map[ID]*entry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Schedule arranges for fire to be invoked at or after when, on the Wheel's
// internal goroutine. Returns an ID usable with Cancel.
func (w *Wheel) Schedule(when time.Time, fire func()) ID {
	id := ID(w.nextID.Add(1))
	e := &entry{id: id, when: when, fire: fire}

	w.mu.Lock()
	w.entries[id] = e
	heap.Push(&w.heap, e)
	soonest := w.heap[0] == e
	w.mu.Unlock()

	if soonest {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return id
}

// Cancel removes a previously scheduled entry. Returns false if it already
// fired or was never scheduled.
func (w *Wheel) Cancel(id ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[id]
	if !ok {
		return false
	}
	delete(w.entries, id)
	heap.Remove(&w.heap, e.index)
	return true
}

// Close stops the Wheel's background goroutine. No further entries fire
// after Close returns.
func (w *Wheel) Close() {
	close(w.stop)
	<-w.done
}

func (w *Wheel) run() {
	defer close(w.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.mu.Lock()
		var wait time.Duration
		if len(w.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(w.heap[0].when)
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.stop:
			return
		case <-w.wake:
			continue
		case <-timer.C:
			w.fireDue()
		}
	}
}

func (w *Wheel) fireDue() {
	now := time.Now()
	var due []*entry
	w.mu.Lock()
	for len(w.heap) > 0 && !w.heap[0].when.After(now) {
		e := heap.Pop(&w.heap).(*entry)
		delete(w.entries, e.id)
		due = append(due, e)
	}
	w.mu.Unlock()

	for _, e := range due {
		e.fire()
	}
}
