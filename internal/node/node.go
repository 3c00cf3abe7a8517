package node

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/pool"
	"github.com/dreamware/ringfab/internal/stats"
	"github.com/dreamware/ringfab/internal/task"
	"github.com/dreamware/ringfab/internal/transport"
	"github.com/dreamware/ringfab/internal/wire"
)

// Node is one compute process in the ring overlay. A single instance
// lives for the whole process: it registers with the registry on
// startup, receives its ring neighbor and pool size in the overlay
// setup message, then serves rounds until the operator stops it.
type Node struct {
	host   string
	port   int32
	logger *zap.Logger
	clk    clock.Clock
	miner  task.Miner

	traffic *stats.Traffic
	counts  *countTable

	// mu is the node monitor: every handler and controller step that
	// touches the round state below runs with it held.
	mu sync.Mutex

	registry *transport.Conn

	outgoing     *transport.Conn
	outgoingAddr string
	incoming     *transport.Conn
	incomingAddr string

	workers     *pool.Pool
	overlaySize int

	generated      []task.Task
	migrated       []task.Task
	balancedCount  int
	isMigrating    bool
	readyToExecute bool
	roundComplete  *pool.Latch
}

// Config carries a node's construction parameters.
type Config struct {
	// Host and Port form the node's advertised address; the port is the
	// one its listener is bound to.
	Host string
	Port int32

	// Clock paces the balancing loop; nil means the wall clock.
	Clock clock.Clock

	// Miner performs the proof-of-work; the zero value uses the default
	// difficulty.
	Miner task.Miner

	Logger *zap.Logger
}

// New builds a node. The caller serves its listener with Handle and then
// calls Register.
func New(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Node{
		host:    cfg.Host,
		port:    cfg.Port,
		logger:  logger.With(zap.String("self", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))),
		clk:     clk,
		miner:   cfg.Miner,
		traffic: stats.New(),
		counts:  newCountTable(),
	}
}

// Addr returns the node's advertised host:port.
func (n *Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.host, n.port)
}

// Register dials the registry and announces this node's address. The
// connection stays open for the node's lifetime; overlay setup and round
// initiation arrive on it.
func (n *Node) Register(registryAddr string) error {
	conn, err := transport.Dial(registryAddr, n.Handle, n.logger)
	if err != nil {
		return fmt.Errorf("node: registry %s unreachable: %w", registryAddr, err)
	}
	n.mu.Lock()
	n.registry = conn
	n.mu.Unlock()

	if err := conn.Send(wire.RegisterRequest{Host: n.host, Port: n.port}); err != nil {
		return fmt.Errorf("node: register with %s: %w", registryAddr, err)
	}
	n.logger.Info("registering with registry", zap.String("registry", registryAddr))
	return nil
}

// Handle is the node's transport handler; every decoded message from the
// registry and from peers lands here on its connection's receiver
// goroutine.
func (n *Node) Handle(m wire.Message, c *transport.Conn) {
	switch msg := m.(type) {
	case wire.RegisterRequest:
		n.recordIncoming(msg, c)
	case wire.RegisterResponse:
		n.logger.Info("registry response",
			zap.Bool("success", msg.Success),
			zap.String("info", msg.Info))
	case wire.NodesList:
		n.setupOverlay(msg)
	case wire.TaskInitiate:
		// The controller goroutine for this round; keeps the registry
		// connection's receiver free.
		go n.runRound(msg.Round)
	case wire.TasksCount:
		n.relayTasksCount(msg)
	case wire.CheckStatus:
		n.handleCheckStatus(c)
	case wire.PushRequest:
		n.handlePushRequest(c)
	case wire.MigrateTasks:
		n.handleMigrateTasks(msg, c)
	case wire.MigrateResponse:
		n.handleMigrateResponse()
	case wire.StatusResponse:
		n.handleStatusResponse()
	case wire.PullTrafficSummary:
		n.sendTrafficSummary(c)
	default:
		n.logger.Warn("unexpected message", zap.Stringer("kind", m.Kind()))
	}
}

// Stop tears down the node's connections and workers on operator
// shutdown. There is no graceful drain across rounds.
func (n *Node) Stop() {
	n.mu.Lock()
	registry, outgoing, incoming, workers := n.registry, n.outgoing, n.incoming, n.workers
	n.mu.Unlock()

	for _, c := range []*transport.Conn{registry, outgoing, incoming} {
		if c != nil {
			c.Close()
		}
	}
	if workers != nil {
		workers.Stop()
	}
}

// recordIncoming associates the inbound overlay connection with the
// upstream neighbor's advertised address.
func (n *Node) recordIncoming(m wire.RegisterRequest, c *transport.Conn) {
	n.mu.Lock()
	n.incoming = c
	n.incomingAddr = m.Addr()
	n.mu.Unlock()
	n.logger.Info("upstream neighbor connected", zap.String("peer", m.Addr()))
}

// setupOverlay dials the downstream ring neighbors named by the registry
// and brings up the worker pool. The ring topology gives each node
// exactly one peer to dial.
func (n *Node) setupOverlay(m wire.NodesList) {
	workers := pool.New(pool.Config{
		Size:       int(m.PoolSize),
		Miner:      n.miner,
		Logger:     n.logger,
		OnTaskDone: func(task.Task) { n.traffic.AddCompleted(1) },
	})

	n.mu.Lock()
	n.overlaySize = int(m.OverlaySize)
	n.workers = workers
	n.mu.Unlock()
	workers.Start()

	for _, peer := range m.Peers {
		conn, err := transport.Dial(peer, n.Handle, n.logger)
		if err != nil {
			n.logger.Error("peer unreachable", zap.String("peer", peer), zap.Error(err))
			return
		}
		if err := conn.Send(wire.RegisterRequest{Host: n.host, Port: n.port}); err != nil {
			n.logger.Error("peer handshake failed", zap.String("peer", peer), zap.Error(err))
			return
		}
		n.mu.Lock()
		n.outgoing = conn
		n.outgoingAddr = peer
		n.mu.Unlock()
		n.logger.Info("downstream neighbor connected", zap.String("peer", peer))
	}
}

// relayTasksCount implements count dissemination: drop the message once
// it has circled back to its origin, otherwise record the freshest count
// and forward it along the ring.
func (n *Node) relayTasksCount(m wire.TasksCount) {
	if m.Origin == n.Addr() {
		return
	}
	n.counts.set(m.Origin, int(m.Count))

	n.mu.Lock()
	outgoing := n.outgoing
	n.mu.Unlock()
	if outgoing == nil {
		n.logger.Warn("no outgoing edge to relay count", zap.String("origin", m.Origin))
		return
	}
	if err := outgoing.Send(m); err != nil {
		n.logger.Warn("count relay failed", zap.Error(err))
	}
}

// disseminateCount broadcasts this node's current total around the ring.
func (n *Node) disseminateCount() {
	n.mu.Lock()
	outgoing := n.outgoing
	total := len(n.generated) + len(n.migrated)
	n.mu.Unlock()
	if outgoing == nil {
		return
	}
	if err := outgoing.Send(wire.TasksCount{Origin: n.Addr(), Count: int32(total)}); err != nil {
		n.logger.Warn("count dissemination failed", zap.Error(err))
	}
}

// handleCheckStatus fields a migration request from an underloaded
// neighbor. A node that has already handed its tasks to the worker pool
// answers with StatusResponse so the requester stops soliciting it and
// moves into execution too. The isMigrating latch admits one outgoing
// migration at a time; a node with nothing left to give declines
// silently and the requester retries on its next loop tick.
//
// The batch is drawn from the locally generated tasks first, topped up
// from previously migrated ones. Re-migration is what lets surplus flow
// through intermediate nodes to the far side of the ring; without it a
// heavily skewed overlay never converges.
func (n *Node) handleCheckStatus(c *transport.Conn) {
	n.mu.Lock()
	if n.readyToExecute {
		n.mu.Unlock()
		if err := c.Send(wire.StatusResponse{}); err != nil {
			n.logger.Warn("status response failed", zap.Error(err))
		}
		return
	}
	if n.isMigrating || len(n.generated)+len(n.migrated) == 0 {
		n.mu.Unlock()
		return
	}
	n.isMigrating = true

	extracted := n.extractBatchLocked(wire.MaxBatch)
	n.mu.Unlock()

	if err := c.Send(wire.MigrateTasks{Tasks: extracted}); err != nil {
		n.logger.Warn("migration send failed", zap.Error(err))
		n.mu.Lock()
		n.generated = append(extracted, n.generated...)
		n.isMigrating = false
		n.mu.Unlock()
		return
	}
	n.traffic.AddPushed(len(extracted))
	n.logger.Debug("migrated tasks out", zap.Int("batch", len(extracted)))
	n.disseminateCount()
}

// extractBatchLocked removes up to max tasks, preferring generated ones.
// Callers hold n.mu.
func (n *Node) extractBatchLocked(max int) []task.Task {
	batch := max
	if batch > len(n.generated) {
		batch = len(n.generated)
	}
	extracted := make([]task.Task, batch, max)
	copy(extracted, n.generated[:batch])
	n.generated = n.generated[batch:]

	if topUp := max - batch; topUp > 0 && len(n.migrated) > 0 {
		if topUp > len(n.migrated) {
			topUp = len(n.migrated)
		}
		extracted = append(extracted, n.migrated[:topUp]...)
		n.migrated = n.migrated[topUp:]
	}
	return extracted
}

// handlePushRequest answers an overloaded neighbor with this node's
// current deficit, which the neighbor treats as a CheckStatus.
func (n *Node) handlePushRequest(c *transport.Conn) {
	n.mu.Lock()
	deficit := absInt(len(n.generated) - n.balancedCount)
	n.mu.Unlock()
	if err := c.Send(wire.CheckStatus{Deficit: int32(deficit)}); err != nil {
		n.logger.Warn("push response failed", zap.Error(err))
	}
}

// handleMigrateTasks accepts a batch from a neighbor. Batches normally
// land in the migrated set, to be merged at enqueue time; a batch that
// arrives after this node entered execution goes straight to the worker
// pool so no task is lost.
func (n *Node) handleMigrateTasks(m wire.MigrateTasks, c *transport.Conn) {
	n.mu.Lock()
	if n.readyToExecute {
		n.workers.AddTasks(m.Tasks)
	} else {
		n.migrated = append(n.migrated, m.Tasks...)
	}
	n.mu.Unlock()

	n.traffic.AddPulled(len(m.Tasks))
	if err := c.Send(wire.MigrateResponse{}); err != nil {
		n.logger.Warn("migrate response failed", zap.Error(err))
	}
	n.logger.Debug("migrated tasks in", zap.Int("batch", len(m.Tasks)))
	n.disseminateCount()
}

// handleMigrateResponse clears the outgoing-migration latch. Duplicate
// responses only repeat the true→false transition.
func (n *Node) handleMigrateResponse() {
	n.mu.Lock()
	n.isMigrating = false
	n.mu.Unlock()
}

// handleStatusResponse reacts to a neighbor that has already moved into
// execution: there is nothing more to pull from that side, so this node
// enqueues its own tasks if balancing had not already done so. The
// balancer's loop observes readyToExecute and stops soliciting.
func (n *Node) handleStatusResponse() {
	n.enqueueForExecution()
}

// sendTrafficSummary reports and resets the four counters.
func (n *Node) sendTrafficSummary(c *transport.Conn) {
	summary := n.traffic.Drain()
	err := c.Send(wire.TrafficSummary{
		Host:      n.host,
		Port:      n.port,
		Generated: summary.Generated,
		Pushed:    summary.Pushed,
		Pulled:    summary.Pulled,
		Completed: summary.Completed,
	})
	if err != nil {
		n.logger.Error("traffic summary send failed", zap.Error(err))
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
