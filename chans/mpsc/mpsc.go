// Package mpsc implements the intrusive, lock-free multi-producer
// single-consumer channel described in spec §4.4.1: a CAS-linked push list
// consumed by exactly one owner, which reverses the list once per drain to
// recover FIFO order.
//
// The push side never blocks and never allocates beyond the caller-supplied
// node; the pop side is single-owner and may freely mutate node.next without
// further synchronization, mirroring the release/acquire discipline the
// eventloop package uses for its MicrotaskRing (see DESIGN.md).
package mpsc

import "sync/atomic"

// Node is the intrusive link a value must embed to be pushed into a Queue.
// Callers own the storage; the queue only ever touches next.
type Node struct {
	next atomic.Pointer[Node]
}

// Queue is an unbounded MPSC queue of *Node-embedding values. The zero value
// is ready to use.
type Queue struct {
	head atomic.Pointer[Node] // CAS push target; newest-first
	// popHead/popTail own the reversed, consumer-local FIFO segment; only
	// ever touched by the single consumer, so no synchronization is needed.
	popHead *Node
	popTail *Node

	closed atomic.Bool
}

// Push appends n to the queue. Safe for any number of concurrent callers.
// Returns false without enqueuing if the queue has been Closed.
func (q *Queue) Push(n *Node) bool {
	if q.closed.Load() {
		return false
	}
	for {
		head := q.head.Load()
		n.next.Store(head)
		if q.head.CompareAndSwap(head, n) {
			return true
		}
	}
}

// Pop removes and returns the oldest pushed node, or nil if the queue is
// currently empty. Must only be called by a single consumer goroutine at a
// time.
func (q *Queue) Pop() *Node {
	if q.popHead == nil {
		q.drain()
	}
	if q.popHead == nil {
		return nil
	}
	n := q.popHead
	q.popHead = n.next.Load()
	if q.popHead == nil {
		q.popTail = nil
	}
	n.next.Store(nil)
	return n
}

// drain lifts the entire current CAS-linked push list (newest-first) and
// reverses it in place into the consumer-owned popHead/popTail FIFO. This is
// the one O(n) step in an otherwise O(1) amortized queue; it runs once per
// batch of pushes observed since the last drain, not once per element.
func (q *Queue) drain() {
	head := q.head.Swap(nil)
	var prev *Node
	for head != nil {
		next := head.next.Load()
		head.next.Store(prev)
		prev = head
		head = next
	}
	q.popHead = prev
	if prev == nil {
		q.popTail = nil
		return
	}
	n := prev
	for n.next.Load() != nil {
		n = n.next.Load()
	}
	q.popTail = n
}

// Close marks the queue closed; subsequent Push calls fail. Already-queued
// nodes remain poppable until drained.
func (q *Queue) Close() {
	q.closed.Store(true)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// Empty reports whether the queue currently has no poppable nodes. Must only
// be called by the single consumer goroutine; it may run concurrently with
// Push calls from producers.
func (q *Queue) Empty() bool {
	return q.popHead == nil && q.head.Load() == nil
}
