package node

import (
	"maps"
	"sync"
)

// countTable is the node's view of every other node's last-reported task
// count, keyed by peer address. Writers overwrite stale entries; the
// estimation phase blocks on waitForSize until one count per peer has
// arrived.
type countTable struct {
	mu     sync.Mutex
	cond   *sync.Cond
	counts map[string]int
}

func newCountTable() *countTable {
	t := &countTable{counts: make(map[string]int)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// set stores the latest count for origin, waking any estimation waiter.
func (t *countTable) set(origin string, count int) {
	t.mu.Lock()
	t.counts[origin] = count
	t.mu.Unlock()
	t.cond.Broadcast()
}

// get returns origin's last-reported count.
func (t *countTable) get(origin string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count, ok := t.counts[origin]
	return count, ok
}

// snapshot copies the table for lock-free iteration.
func (t *countTable) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.counts)
}

// waitForSize blocks until the table holds n entries.
func (t *countTable) waitForSize(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.counts) < n {
		t.cond.Wait()
	}
}

// reset clears the table between rounds.
func (t *countTable) reset() {
	t.mu.Lock()
	t.counts = make(map[string]int)
	t.mu.Unlock()
}
