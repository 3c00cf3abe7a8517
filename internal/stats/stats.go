// Package stats tracks a node's per-round traffic counters: tasks
// generated, pushed to neighbors, pulled from neighbors, and completed.
package stats

import "go.uber.org/atomic"

// Traffic holds the four counters a node reports in its traffic summary.
// All methods are safe for concurrent use; workers increment completed
// while message handlers increment the migration counters.
type Traffic struct {
	generated atomic.Int64
	pushed    atomic.Int64
	pulled    atomic.Int64
	completed atomic.Int64
}

// Summary is a point-in-time copy of the counters.
type Summary struct {
	Generated int64
	Pushed    int64
	Pulled    int64
	Completed int64
}

// New returns a zeroed counter set.
func New() *Traffic {
	return &Traffic{}
}

// AddGenerated records n locally created tasks.
func (t *Traffic) AddGenerated(n int) { t.generated.Add(int64(n)) }

// AddPushed records n tasks migrated out to a neighbor.
func (t *Traffic) AddPushed(n int) { t.pushed.Add(int64(n)) }

// AddPulled records n tasks accepted from a neighbor.
func (t *Traffic) AddPulled(n int) { t.pulled.Add(int64(n)) }

// AddCompleted records n tasks whose proof-of-work finished here.
func (t *Traffic) AddCompleted(n int) { t.completed.Add(int64(n)) }

// Snapshot returns the current counter values without resetting them.
func (t *Traffic) Snapshot() Summary {
	return Summary{
		Generated: t.generated.Load(),
		Pushed:    t.pushed.Load(),
		Pulled:    t.pulled.Load(),
		Completed: t.completed.Load(),
	}
}

// Drain returns the current values and resets every counter to zero.
// The traffic summary protocol sends each counter exactly once.
func (t *Traffic) Drain() Summary {
	return Summary{
		Generated: t.generated.Swap(0),
		Pushed:    t.pushed.Swap(0),
		Pulled:    t.pulled.Swap(0),
		Completed: t.completed.Swap(0),
	}
}
