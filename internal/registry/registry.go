// Package registry implements the overlay's control plane: it admits
// compute nodes, computes each node's ring neighbor, initiates rounds,
// and collects the final traffic summaries.
//
// The registry is deliberately thin. After `setup-overlay` hands every
// node its downstream neighbor, all per-round traffic flows node to
// node; the registry only sees one TaskComplete per node per round and
// one TrafficSummary per node at the end of a run.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/pool"
	"github.com/dreamware/ringfab/internal/transport"
	"github.com/dreamware/ringfab/internal/wire"
)

// ErrTooFewNodes is returned by SetupOverlay when the ring would have
// fewer than two members.
var ErrTooFewNodes = errors.New("registry: overlay needs at least two nodes")

// ErrOverlayNotReady is returned by Start before SetupOverlay has run.
var ErrOverlayNotReady = errors.New("registry: overlay has not been set up")

// member is one admitted node.
type member struct {
	addr string
	conn *transport.Conn
}

// Registry tracks overlay membership and drives rounds. All exported
// methods are safe for concurrent use; Handle runs on connection
// receiver goroutines while SetupOverlay and Start run on the operator
// console goroutine.
type Registry struct {
	logger *zap.Logger
	clk    clock.Clock

	// settleDelay is how long the registry waits after the final round
	// before pulling traffic summaries, giving straggling migration
	// batches time to finish executing.
	settleDelay time.Duration

	mu           sync.Mutex
	members      []*member
	byAddr       map[string]*member
	overlayReady bool

	completions chan string
	summaries   chan wire.TrafficSummary
}

// Config carries the registry's construction parameters.
type Config struct {
	// Clock paces the post-run settling delay; nil means the wall clock.
	Clock clock.Clock

	// SettleDelay overrides the default two-second wait before pulling
	// traffic summaries. Zero keeps the default.
	SettleDelay time.Duration

	Logger *zap.Logger
}

// New builds a registry with no members.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	settle := cfg.SettleDelay
	if settle == 0 {
		settle = 2 * time.Second
	}
	return &Registry{
		logger:      logger,
		clk:         clk,
		settleDelay: settle,
		byAddr:      make(map[string]*member),
		completions: make(chan string, 64),
		summaries:   make(chan wire.TrafficSummary, 64),
	}
}

// Handle is the registry's transport handler.
func (r *Registry) Handle(m wire.Message, c *transport.Conn) {
	switch msg := m.(type) {
	case wire.RegisterRequest:
		r.admit(msg, c)
	case wire.TaskComplete:
		r.completions <- msg.Addr()
	case wire.TrafficSummary:
		r.summaries <- msg
	default:
		r.logger.Warn("unexpected message", zap.Stringer("kind", m.Kind()))
	}
}

// admit records a node, rejecting duplicates and late arrivals. The ring
// is fixed once the overlay is set up; a node registering after that is
// turned away rather than silently left out of the topology.
func (r *Registry) admit(m wire.RegisterRequest, c *transport.Conn) {
	addr := m.Addr()

	r.mu.Lock()
	var failure string
	switch {
	case r.overlayReady:
		failure = "overlay already set up"
	case r.byAddr[addr] != nil:
		failure = "node already registered"
	}
	if failure == "" {
		node := &member{addr: addr, conn: c}
		r.members = append(r.members, node)
		r.byAddr[addr] = node
	}
	total := len(r.members)
	r.mu.Unlock()

	if failure != "" {
		r.logger.Warn("registration rejected",
			zap.String("node", addr), zap.String("reason", failure))
		r.respond(c, wire.RegisterResponse{Success: false, Info: failure})
		return
	}
	r.logger.Info("node registered", zap.String("node", addr), zap.Int("total", total))
	r.respond(c, wire.RegisterResponse{
		Success: true,
		Info:    fmt.Sprintf("registration successful; overlay now has %d nodes", total),
	})
}

// Members returns the admitted node addresses in registration order.
func (r *Registry) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]string, len(r.members))
	for i, node := range r.members {
		addrs[i] = node.addr
	}
	return addrs
}

// SetupOverlay fixes the ring topology and pushes each node its overlay
// setup message: the downstream neighbor to dial, the worker pool size,
// and the overlay size. Node i's neighbor is node (i+1) mod N in
// registration order, so every node appears exactly once as someone's
// downstream.
func (r *Registry) SetupOverlay(poolSize int) error {
	if poolSize < pool.MinSize {
		poolSize = pool.MinSize
	}
	if poolSize > pool.MaxSize {
		poolSize = pool.MaxSize
	}

	r.mu.Lock()
	if len(r.members) < 2 {
		r.mu.Unlock()
		return ErrTooFewNodes
	}
	members := append([]*member(nil), r.members...)
	r.overlayReady = true
	r.mu.Unlock()

	n := len(members)
	for i, node := range members {
		next := members[(i+1)%n]
		setup := wire.NodesList{
			Peers:       []string{next.addr},
			PoolSize:    int32(poolSize),
			OverlaySize: int32(n),
		}
		if err := node.conn.Send(setup); err != nil {
			return fmt.Errorf("registry: overlay setup for %s: %w", node.addr, err)
		}
		r.logger.Info("ring edge assigned",
			zap.String("node", node.addr), zap.String("downstream", next.addr))
	}
	r.logger.Info("overlay ready", zap.Int("nodes", n), zap.Int("poolSize", poolSize))
	return nil
}

// Start runs the given number of rounds and returns every node's traffic
// summary. Each round is one TaskInitiate per node; the next round does
// not begin until every node has reported TaskComplete. A node that
// never reports stalls the run, which is the observable failure mode for
// a broken ring.
func (r *Registry) Start(rounds int) ([]wire.TrafficSummary, error) {
	r.mu.Lock()
	ready := r.overlayReady
	members := append([]*member(nil), r.members...)
	r.mu.Unlock()
	if !ready {
		return nil, ErrOverlayNotReady
	}

	for round := 1; round <= rounds; round++ {
		r.logger.Info("round initiated", zap.Int("round", round), zap.Int("nodes", len(members)))
		for _, node := range members {
			if err := node.conn.Send(wire.TaskInitiate{Round: int32(round)}); err != nil {
				return nil, fmt.Errorf("registry: initiate round %d for %s: %w", round, node.addr, err)
			}
		}
		r.awaitCompletions(members)
		r.logger.Info("round finished", zap.Int("round", round))
	}

	r.clk.Sleep(r.settleDelay)
	return r.pullSummaries(members)
}

// awaitCompletions blocks until every member has reported TaskComplete
// for the current round. Duplicate reports from one node are ignored.
func (r *Registry) awaitCompletions(members []*member) {
	want := len(members)
	seen := make(map[string]bool, want)
	for len(seen) < want {
		addr := <-r.completions
		if seen[addr] {
			r.logger.Warn("duplicate task complete", zap.String("node", addr))
			continue
		}
		seen[addr] = true
		r.logger.Info("node finished round",
			zap.String("node", addr), zap.Int("done", len(seen)), zap.Int("of", want))
	}
}

// pullSummaries asks every node for its traffic summary and collects one
// reply per node.
func (r *Registry) pullSummaries(members []*member) ([]wire.TrafficSummary, error) {
	for _, node := range members {
		if err := node.conn.Send(wire.PullTrafficSummary{}); err != nil {
			return nil, fmt.Errorf("registry: pull summary from %s: %w", node.addr, err)
		}
	}

	collected := make(map[string]wire.TrafficSummary, len(members))
	for len(collected) < len(members) {
		summary := <-r.summaries
		collected[summary.Addr()] = summary
	}

	// Report in registration order.
	summaries := make([]wire.TrafficSummary, 0, len(members))
	for _, node := range members {
		summaries = append(summaries, collected[node.addr])
	}
	return summaries, nil
}

func (r *Registry) respond(c *transport.Conn, m wire.RegisterResponse) {
	if err := c.Send(m); err != nil {
		r.logger.Warn("register response failed", zap.Error(err))
	}
}
