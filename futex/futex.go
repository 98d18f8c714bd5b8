// Package futex implements the address-keyed wait/wake primitive described
// in spec §4.3: single-key wait, multi-key wait, filtered wake, and
// filtered requeue, backed by a fixed table of mutex-guarded buckets
// chosen by hashing the key's address identity.
//
// Go's type-safe sync/atomic has no notion of an untyped byte address with
// a runtime-chosen width, so keys here are the Addr interface rather than a
// raw (pointer, size) pair: callers wrap an *atomic.Uint32, *atomic.Uint64,
// or *atomic.Bool with the matching constructor. This covers the 4- and
// 8-byte (and boolean, standing in for 1-byte) cases from spec §3's
// key_size ∈ {1,2,4,8}; see DESIGN.md for the full rationale.
package futex

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// ErrInvalid is returned when the expected-value check fails at
// registration time; the caller should reload and retry.
var ErrInvalid = errors.New("futex: invalid")

// ErrTimeout is returned when a deadline elapses before a wake or requeue
// resolves the wait.
var ErrTimeout = errors.New("futex: timeout")

// ErrKeySize is returned by WaitV when any entry's key is malformed
// (currently: nil Addr). All-or-none: if any entry fails, none are
// registered.
var ErrKeySize = errors.New("futex: bad key")

// Addr is an address-keyed memory location a Wait can block on until its
// value changes away from an expected snapshot.
type Addr interface {
	// Load atomically reads the current value, widened to uint64.
	Load() uint64
	// ptr identifies the underlying memory location, for bucket hashing
	// and key-equality comparisons. Unexported so only this package's
	// constructors can produce a valid Addr.
	ptr() unsafe.Pointer
}

type uint32Addr struct{ p *atomic.Uint32 }
type uint64Addr struct{ p *atomic.Uint64 }
type boolAddr struct{ p *atomic.Bool }

func (a uint32Addr) Load() uint64        { return uint64(a.p.Load()) }
func (a uint32Addr) ptr() unsafe.Pointer { return unsafe.Pointer(a.p) }
func (a uint64Addr) Load() uint64        { return a.p.Load() }
func (a uint64Addr) ptr() unsafe.Pointer { return unsafe.Pointer(a.p) }
func (a boolAddr) Load() uint64 {
	if a.p.Load() {
		return 1
	}
	return 0
}
func (a boolAddr) ptr() unsafe.Pointer { return unsafe.Pointer(a.p) }

// Uint32Key wraps a 4-byte atomic word as a futex key (spec key_size 4).
func Uint32Key(p *atomic.Uint32) Addr { return uint32Addr{p} }

// Uint64Key wraps an 8-byte atomic word as a futex key (spec key_size 8).
func Uint64Key(p *atomic.Uint64) Addr { return uint64Addr{p} }

// BoolKey wraps a 1-byte atomic flag as a futex key (spec key_size 1).
func BoolKey(p *atomic.Bool) Addr { return boolAddr{p} }

// Token is the opaque per-wait-entry value used to implement filtered
// wake/requeue (spec §4.3's "Token semantics").
type Token uintptr

// Filter decides whether a queued wait-entry should be woken/requeued,
// based on its Token.
type Filter func(Token) bool

// AnyToken matches every wait-entry, regardless of token.
func AnyToken(Token) bool { return true }

// TokenEquals matches wait-entries whose token equals want exactly.
func TokenEquals(want Token) Filter {
	return func(t Token) bool { return t == want }
}

type waitEntry struct {
	key     Addr
	token   Token
	ch      chan struct{}
	timer   *time.Timer
	bucket  *bucket
	queued  bool // guarded by bucket.mu; false once removed
	prev    *waitEntry
	next    *waitEntry
	woken   bool
	timeout bool
}

type bucket struct {
	mu   sync.Mutex
	head *waitEntry
	tail *waitEntry
}

func (b *bucket) pushBack(e *waitEntry) {
	e.bucket = b
	e.queued = true
	if b.tail == nil {
		b.head, b.tail = e, e
		return
	}
	e.prev = b.tail
	b.tail.next = e
	b.tail = e
}

// remove detaches e from its bucket's list. Must be called with e.bucket.mu
// held. Safe to call more than once (no-op if already removed).
func (b *bucket) remove(e *waitEntry) {
	if !e.queued {
		return
	}
	e.queued = false
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		b.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// Table is an address-keyed wait/wake table: a fixed, power-of-two number
// of mutex-guarded buckets, each holding an intrusive queue of wait
// entries. The zero value is not usable; construct with NewTable.
type Table struct {
	buckets []bucket
	mask    uintptr
}

// NewTable creates a Table with at least numBuckets buckets (rounded up to
// the next power of two, minimum 1).
func NewTable(numBuckets int) *Table {
	n := 1
	for n < numBuckets {
		n <<= 1
	}
	return &Table{buckets: make([]bucket, n), mask: uintptr(n - 1)}
}

func hashPtr(p unsafe.Pointer) uintptr {
	h := uintptr(p)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

func (t *Table) bucketFor(a Addr) *bucket {
	return &t.buckets[hashPtr(a.ptr())&t.mask]
}

// Wait checks key.Load() == expected; if not, returns ErrInvalid
// immediately without parking. Otherwise it registers a wait entry under
// the bucket's lock and blocks until woken by Wake/Requeue, or until
// deadline elapses (returning ErrTimeout). A zero deadline means wait
// forever.
func (t *Table) Wait(key Addr, expected uint64, token Token, deadline time.Time) error {
	b := t.bucketFor(key)

	b.mu.Lock()
	if key.Load() != expected {
		b.mu.Unlock()
		return ErrInvalid
	}
	e := &waitEntry{key: key, token: token, ch: make(chan struct{}, 1)}
	b.pushBack(e)
	if !deadline.IsZero() {
		e.timer = time.AfterFunc(time.Until(deadline), func() { t.timeoutEntry(e) })
	}
	b.mu.Unlock()

	<-e.ch
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.timeout {
		return ErrTimeout
	}
	return nil
}

func (t *Table) timeoutEntry(e *waitEntry) {
	b := e.bucket
	b.mu.Lock()
	if !e.queued {
		// Already dequeued by a Wake/Requeue; the timer is a no-op.
		b.mu.Unlock()
		return
	}
	b.remove(e)
	e.timeout = true
	b.mu.Unlock()
	e.ch <- struct{}{}
}

func wakeEntry(b *bucket, e *waitEntry) {
	b.remove(e)
	e.woken = true
	e.ch <- struct{}{}
}

// WaitSpec is one key in a WaitV call.
type WaitSpec struct {
	Key      Addr
	Expected uint64
	Token    Token
}

// WaitV registers a wait across multiple keys simultaneously; the first
// wake/requeue to fire resolves the call with the index of the key that
// fired. Registration is all-or-none: if any entry's expected check fails,
// WaitV returns (-1, ErrInvalid) without parking on any key.
func (t *Table) WaitV(entries []WaitSpec, deadline time.Time) (int, error) {
	if len(entries) == 0 {
		return -1, ErrKeySize
	}

	// Lock every distinct bucket, in a stable order (by slice index into
	// t.buckets), to avoid the only possible lock-cycle the spec calls out.
	bucketIdx := make([]int, len(entries))
	for i, spec := range entries {
		if spec.Key == nil {
			return -1, ErrKeySize
		}
		bucketIdx[i] = int(hashPtr(spec.Key.ptr()) & t.mask)
	}
	order := uniqueSortedIndices(bucketIdx)
	lockAll := func() {
		for _, bi := range order {
			t.buckets[bi].mu.Lock()
		}
	}
	unlockAll := func() {
		for _, bi := range order {
			t.buckets[bi].mu.Unlock()
		}
	}

	lockAll()

	for _, spec := range entries {
		if spec.Key.Load() != spec.Expected {
			unlockAll()
			return -1, ErrInvalid
		}
	}

	// fired carries the index of the key that resolved the call; each
	// entry's wakeEntry send lands here directly rather than via a
	// per-entry monitor goroutine, so no entry ever leaks a blocked
	// goroutine waiting on a channel nobody signals.
	fired := make(chan int, 1)
	waitEntries := make([]*waitEntry, len(entries))
	for i, spec := range entries {
		idx := i
		e := &waitEntry{key: spec.Key, token: spec.Token, ch: make(chan struct{}, 1)}
		waitEntries[i] = e
		t.buckets[bucketIdx[i]].pushBack(e)
		go func(e *waitEntry, idx int) {
			<-e.ch
			select {
			case fired <- idx:
			default:
			}
		}(e, idx)
	}

	var timer *time.Timer
	timedOut := make(chan struct{})
	if !deadline.IsZero() {
		timer = time.AfterFunc(time.Until(deadline), func() { close(timedOut) })
	}

	unlockAll()
	var result int
	var timedOutHit bool
	select {
	case result = <-fired:
	case <-timedOut:
		timedOutHit = true
	}
	if timer != nil {
		timer.Stop()
	}

	// Re-lock to remove whichever entries didn't fire, and release their
	// monitor goroutines by signalling their channel (a no-op for the one
	// entry, if any, that already fired and already signalled itself).
	lockAll()
	for i, e := range waitEntries {
		if i == result && !timedOutHit {
			continue
		}
		t.buckets[bucketIdx[i]].remove(e)
		select {
		case e.ch <- struct{}{}:
		default:
		}
	}
	unlockAll()

	if timedOutHit {
		return -1, ErrTimeout
	}
	return result, nil
}

func uniqueSortedIndices(idx []int) []int {
	seen := make(map[int]struct{}, len(idx))
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	// simple insertion sort; idx slices are tiny (one per Wait key)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Wake walks key's bucket and wakes up to max entries whose key matches and
// whose token satisfies filter, in FIFO order. Returns the number woken.
func (t *Table) Wake(key Addr, max int, filter Filter) int {
	if filter == nil {
		filter = AnyToken
	}
	b := t.bucketFor(key)
	b.mu.Lock()
	woken := 0
	e := b.head
	for e != nil && woken < max {
		next := e.next
		if e.key.ptr() == key.ptr() && filter(e.token) {
			wakeEntry(b, e)
			woken++
		}
		e = next
	}
	b.mu.Unlock()
	return woken
}

// Requeue re-checks keyFrom == expected under both buckets' locks; on
// mismatch, returns (0, 0, ErrInvalid). Otherwise it wakes up to maxWakes
// matching entries on keyFrom, then relocates up to maxRequeues further
// matching entries from keyFrom's queue to keyTo's queue (adjusting their
// key), leaving them parked there. Returns the counts woken and requeued.
func (t *Table) Requeue(keyFrom, keyTo Addr, expected uint64, maxWakes, maxRequeues int, filter Filter) (woken, requeued int, err error) {
	if filter == nil {
		filter = AnyToken
	}
	bFrom := t.bucketFor(keyFrom)
	bTo := t.bucketFor(keyTo)

	// Lock ordering: by bucket slice address, to match the spec's
	// {bucket_from, bucket_to} ordered-by-address rule.
	if bFrom == bTo {
		bFrom.mu.Lock()
	} else if uintptr(unsafe.Pointer(bFrom)) < uintptr(unsafe.Pointer(bTo)) {
		bFrom.mu.Lock()
		bTo.mu.Lock()
	} else {
		bTo.mu.Lock()
		bFrom.mu.Lock()
	}
	defer func() {
		if bFrom == bTo {
			bFrom.mu.Unlock()
			return
		}
		bFrom.mu.Unlock()
		bTo.mu.Unlock()
	}()

	if keyFrom.Load() != expected {
		return 0, 0, ErrInvalid
	}

	e := bFrom.head
	for e != nil && woken < maxWakes {
		next := e.next
		if e.key.ptr() == keyFrom.ptr() && filter(e.token) {
			wakeEntry(bFrom, e)
			woken++
		}
		e = next
	}

	e = bFrom.head
	for e != nil && requeued < maxRequeues {
		next := e.next
		if e.key.ptr() == keyFrom.ptr() && filter(e.token) {
			bFrom.remove(e)
			e.key = keyTo
			bTo.pushBack(e)
			requeued++
		}
		e = next
	}

	return woken, requeued, nil
}
