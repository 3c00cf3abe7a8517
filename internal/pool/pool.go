// Package pool runs a node's proof-of-work on a fixed set of workers
// consuming from a shared FIFO queue, and signals when a round's queue
// has drained.
package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/ringfab/internal/task"
)

// MinSize and MaxSize bound the worker count a registry may configure.
const (
	MinSize = 2
	MaxSize = 16
)

// Pool executes tasks on Size workers. Tasks are consumed in FIFO order;
// when the queue empties and no worker holds a task in flight, the
// round's drain latch is released.
//
// The pool outlives rounds: the controller hands over each round's task
// set together with a fresh latch via Submit, then waits on the latch.
type Pool struct {
	logger *zap.Logger
	miner  task.Miner
	queue  *queue
	group  *errgroup.Group

	// onDone is invoked once per executed task, before the drain check.
	onDone func(task.Task)

	// mine performs the proof-of-work; indirection lets tests inject a
	// failing computation.
	mine func(task.Task) task.Result

	mu      sync.Mutex
	size    int
	started bool
}

// Config carries the pool's construction parameters.
type Config struct {
	// Size is the worker count, clamped to [MinSize, MaxSize].
	Size int

	// Miner performs the proof-of-work. The zero value uses the default
	// difficulty.
	Miner task.Miner

	// OnTaskDone, if set, is called after each task's proof-of-work
	// completes. Used by the node to bump its completed counter.
	OnTaskDone func(task.Task)

	Logger *zap.Logger
}

// New builds a pool. Workers do not run until Start is called.
func New(cfg Config) *Pool {
	size := cfg.Size
	if size < MinSize {
		size = MinSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		logger: logger.With(zap.Int("poolSize", size)),
		miner:  cfg.Miner,
		queue:  newQueue(),
		onDone: cfg.OnTaskDone,
		size:   size,
	}
	p.mine = func(t task.Task) task.Result {
		return p.miner.Mine(t)
	}
	return p
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers. Calling Start more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.group, _ = errgroup.WithContext(context.Background())
	for i := 0; i < p.size; i++ {
		worker := i
		p.group.Go(func() error {
			p.run(worker)
			return nil
		})
	}
	p.logger.Info("worker pool started")
}

// AddTasks appends tasks to the queue without touching the drain latch.
// Used for migration batches that land after a round's submission.
// Callers guarantee the batch holds no duplicates of tasks already
// queued.
func (p *Pool) AddTasks(tasks []task.Task) {
	if len(tasks) == 0 {
		return
	}
	p.queue.submit(tasks, nil)
}

// Submit hands a round's task set to the pool and arms the latch to
// release when the queue next goes quiescent: empty with no task in
// flight. Appending and arming happen atomically, so a straggling task
// from a previous round cannot trip the new latch between the two.
func (p *Pool) Submit(tasks []task.Task, drain *Latch) {
	p.queue.submit(tasks, drain)
}

// Stop closes the queue and waits for the workers to exit. Queued tasks
// are abandoned; Stop is for process shutdown, not round teardown.
func (p *Pool) Stop() {
	p.queue.close()
	p.mu.Lock()
	group := p.group
	p.mu.Unlock()
	if group != nil {
		_ = group.Wait()
	}
}

func (p *Pool) run(worker int) {
	logger := p.logger.With(zap.Int("worker", worker))
	for {
		t, ok := p.queue.take()
		if !ok {
			return
		}
		p.execute(logger, t)
		if drain := p.queue.finish(); drain != nil {
			drain.Release()
			logger.Debug("queue drained")
		}
	}
}

// execute mines one task. The proof-of-work is deterministic and not
// expected to fail; a panic is logged and the task still counts as
// completed so the round can terminate.
func (p *Pool) execute(logger *zap.Logger, t task.Task) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("proof-of-work failed",
					zap.Stringer("task", t),
					zap.Error(fmt.Errorf("%v", r)))
			}
		}()
		result := p.mine(t)
		logger.Debug("task mined",
			zap.Stringer("task", t),
			zap.Uint64("nonce", result.Nonce))
	}()
	if p.onDone != nil {
		p.onDone(t)
	}
}

// queue is a blocking FIFO. take blocks until an item arrives or the
// queue closes. finish marks one taken item as executed and returns the
// drain latch when the queue is quiescent: empty with nothing in flight.
type queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []task.Task
	drain    *Latch
	inflight int
	closed   bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) submit(tasks []task.Task, drain *Latch) {
	q.mu.Lock()
	q.items = append(q.items, tasks...)
	if drain != nil {
		q.drain = drain
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue) take() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed || len(q.items) == 0 {
		return task.Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	q.inflight++
	return t, true
}

func (q *queue) finish() *Latch {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	if len(q.items) == 0 && q.inflight == 0 {
		return q.drain
	}
	return nil
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
