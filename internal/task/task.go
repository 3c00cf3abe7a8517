// Package task defines the unit of work exchanged and executed by compute
// nodes: an immutable Task record and the proof-of-work miner that
// completes it.
package task

import "fmt"

// Task is one unit of proof-of-work. A task is created by its origin node
// and never mutated afterwards; it may migrate between nodes but is never
// duplicated. Identity is the full tuple of fields: two tasks are equal
// only if every field matches.
type Task struct {
	// OriginHost and OriginPort identify the node that generated the task.
	OriginHost string
	OriginPort int32

	// Round is the round number the task belongs to.
	Round int32

	// Payload is the random nonce the proof-of-work is computed over.
	Payload int32
}

// Origin returns the task's origin address in host:port form.
func (t Task) Origin() string {
	return fmt.Sprintf("%s:%d", t.OriginHost, t.OriginPort)
}

// String renders the task for logs.
func (t Task) String() string {
	return fmt.Sprintf("task{%s r%d p%d}", t.Origin(), t.Round, t.Payload)
}
