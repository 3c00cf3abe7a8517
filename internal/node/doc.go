// Package node implements the compute node's per-round protocol: task
// generation, count dissemination around the ring, mean estimation,
// pair-wise push/pull load balancing with its two ring neighbors, local
// execution on a bounded worker pool, and round-completion reporting to
// the registry.
//
// # Round state machine
//
// A round is driven by a single controller goroutine spawned per
// TaskInitiate:
//
//	Idle → Generating → Announcing → Estimating → Balancing
//	     → Executing → Reporting → Idle
//
//	┌───────────┐ TaskInitiate ┌────────────┐ counts==N-1 ┌───────────┐
//	│   Idle    ├─────────────►│ Announcing ├────────────►│ Balancing │
//	└───────────┘              └────────────┘             └─────┬─────┘
//	      ▲                                     70% in tolerance│
//	      │        ┌───────────┐              ┌───────────┐     │
//	      └────────┤ Reporting │◄─────────────┤ Executing │◄────┘
//	               └───────────┘ queue drained└───────────┘
//
// # Balancing
//
// Each node compares its own total against the estimated mean. Overloaded
// nodes solicit deficits from lighter neighbors (PushRequest); underloaded
// nodes request batches from heavier neighbors (CheckStatus). Migration
// moves at most ten tasks per exchange, drawn from the giver's generated
// set first and topped up from its migrated set, so surplus can flow
// through intermediate nodes to the far side of the ring. The isMigrating
// latch keeps a node from fielding two outgoing migrations at once. The
// loop re-evaluates every ten milliseconds until at least 70% of known
// peer counts sit within ±⌈0.1·mean⌉ of the mean, or a neighbor already
// executing answers with StatusResponse, which moves this node into
// execution as well.
//
// # Concurrency
//
// Message handlers run on each connection's receiver goroutine and the
// controller runs on its own; all of them treat the node as a monitor,
// holding one mutex across any touch of the round state (generated,
// migrated, balancedCount, latches). The overlay count table has its own
// lock and condition variable so count arrivals can wake the estimation
// wait without contending with migration handling.
package node
