package node

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/pool"
	"github.com/dreamware/ringfab/internal/task"
	"github.com/dreamware/ringfab/internal/transport"
	"github.com/dreamware/ringfab/internal/wire"
)

// maxGenerated bounds the tasks a node creates per round; the draw is
// uniform on [1, maxGenerated].
const maxGenerated = 1000

// balanceInterval is how long the balancer sleeps between evaluations.
const balanceInterval = 10 * time.Millisecond

// balancedQuorum is the share of peers that must report a count within
// tolerance of the mean before this node stops balancing.
const balancedQuorum = 0.7

// runRound drives one full round: generate, announce, estimate, balance,
// execute, report. It runs on its own goroutine, one per TaskInitiate.
func (n *Node) runRound(round int32) {
	logger := n.logger.With(zap.Int32("round", round))

	// Generating.
	count := rand.Intn(maxGenerated) + 1
	tasks := make([]task.Task, count)
	for i := range tasks {
		tasks[i] = task.Task{
			OriginHost: n.host,
			OriginPort: n.port,
			Round:      round,
			Payload:    int32(rand.Uint32()),
		}
	}

	n.mu.Lock()
	n.generated = tasks
	n.migrated = nil
	n.isMigrating = false
	n.readyToExecute = false
	n.roundComplete = pool.NewLatch()
	complete := n.roundComplete
	overlaySize := n.overlaySize
	n.mu.Unlock()

	if overlaySize < 2 {
		logger.Error("round initiated before overlay setup")
		return
	}

	n.traffic.AddGenerated(count)
	logger.Info("round started", zap.Int("generated", count))

	// Announcing.
	n.disseminateCount()

	// Estimating: one count per peer must arrive before the mean means
	// anything.
	n.counts.waitForSize(overlaySize - 1)
	total := count
	for _, peerCount := range n.counts.snapshot() {
		total += peerCount
	}
	balanced := ceilDiv(total, overlaySize)
	n.mu.Lock()
	n.balancedCount = balanced
	n.mu.Unlock()
	logger.Info("mean estimated",
		zap.Int("overlayTotal", total),
		zap.Int("balancedCount", balanced))

	// Balancing.
	n.balance(logger)

	// Executing.
	n.enqueueForExecution()
	complete.Wait()
	logger.Info("round complete")

	// Reporting.
	n.mu.Lock()
	registry := n.registry
	n.mu.Unlock()
	if registry != nil {
		err := registry.Send(wire.TaskComplete{Host: n.host, Port: n.port})
		if err != nil {
			logger.Error("task complete report failed", zap.Error(err))
		}
	}
	n.counts.reset()
}

// balance runs the push/pull loop against the two ring neighbors until
// enough of the overlay sits within tolerance of the mean, or a
// neighbor's StatusResponse has already moved this node into execution.
func (n *Node) balance(logger *zap.Logger) {
	for !n.isBalanced() && !n.isReady() {
		n.mu.Lock()
		total := len(n.generated) + len(n.migrated)
		deficit := absInt(len(n.generated) - n.balancedCount)
		balanced := n.balancedCount
		neighbors := []struct {
			conn *transport.Conn
			addr string
		}{
			{n.outgoing, n.outgoingAddr},
			{n.incoming, n.incomingAddr},
		}
		n.mu.Unlock()

		counts := n.counts.snapshot()
		for _, neighbor := range neighbors {
			if neighbor.conn == nil {
				continue
			}
			reported, known := counts[neighbor.addr]
			if !known {
				continue
			}
			var err error
			if total > balanced && reported <= balanced {
				err = neighbor.conn.Send(wire.PushRequest{Total: int32(total)})
			} else if total <= balanced && reported >= balanced {
				err = neighbor.conn.Send(wire.CheckStatus{Deficit: int32(deficit)})
			}
			if err != nil {
				logger.Warn("balancing message failed",
					zap.String("peer", neighbor.addr), zap.Error(err))
			}
		}

		n.clk.Sleep(balanceInterval)
	}
	logger.Info("overlay balanced", zap.Int("total", n.localTotal()))
}

// isBalanced reports whether at least balancedQuorum of the peers'
// last-known counts lie within ±tolerance of the mean, where tolerance
// is ⌈0.1·mean⌉ and never below one.
func (n *Node) isBalanced() bool {
	counts := n.counts.snapshot()
	if len(counts) == 0 {
		return true
	}
	n.mu.Lock()
	balanced := n.balancedCount
	n.mu.Unlock()

	tolerance := ceilDiv(balanced, 10)
	if tolerance < 1 {
		tolerance = 1
	}
	within := 0
	for _, count := range counts {
		if absInt(count-balanced) <= tolerance {
			within++
		}
	}
	return float64(within) >= balancedQuorum*float64(len(counts))
}

// enqueueForExecution hands the round's tasks to the worker pool exactly
// once, merging the migrated set into the generated one at the boundary.
func (n *Node) enqueueForExecution() {
	n.mu.Lock()
	if n.readyToExecute || n.workers == nil || n.roundComplete == nil {
		n.mu.Unlock()
		return
	}
	n.readyToExecute = true
	tasks := make([]task.Task, 0, len(n.generated)+len(n.migrated))
	tasks = append(tasks, n.generated...)
	tasks = append(tasks, n.migrated...)
	workers := n.workers
	complete := n.roundComplete
	n.mu.Unlock()

	workers.Submit(tasks, complete)
	n.logger.Info("executing", zap.Int("tasks", len(tasks)))
}

func (n *Node) localTotal() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.generated) + len(n.migrated)
}

func (n *Node) isReady() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.readyToExecute
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
