package pool

import (
	"sync"
	"sync/atomic"
)

// Info is a diagnostic snapshot of one queryable Pool, returned by
// QueryPools. It is a copy; mutating it has no effect on the pool itself.
type Info struct {
	ID          uint64
	Label       string
	WorkerCount int
}

// queryTable is the process-wide directory of queryable pools (spec §6's
// pool VTable group "query pools"/"create pool"), grounded on the same
// mutex-guarded map shape as trace.Registry's call-stack table. A Pool only
// registers here when its Config.IsQueryable is set.
var queryTable = struct {
	mu      sync.RWMutex
	next    atomic.Uint64
	entries map[uint64]*Pool
}{entries: make(map[uint64]*Pool)}

// registerQueryable assigns p a query id and adds it to the directory.
func registerQueryable(p *Pool) uint64 {
	id := queryTable.next.Add(1)
	queryTable.mu.Lock()
	queryTable.entries[id] = p
	queryTable.mu.Unlock()
	return id
}

// unregisterQueryable removes p from the directory, if present.
func unregisterQueryable(id uint64) {
	queryTable.mu.Lock()
	delete(queryTable.entries, id)
	queryTable.mu.Unlock()
}

// QueryPools returns a snapshot of every currently live pool constructed
// with Config.IsQueryable set, for diagnostic tooling that wants to
// enumerate pools without holding a reference to each one.
func QueryPools() []Info {
	queryTable.mu.RLock()
	defer queryTable.mu.RUnlock()

	out := make([]Info, 0, len(queryTable.entries))
	for id, p := range queryTable.entries {
		out = append(out, Info{ID: id, Label: p.label, WorkerCount: len(p.workers)})
	}
	return out
}
