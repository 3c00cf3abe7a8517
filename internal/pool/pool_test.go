package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/dreamware/ringfab/internal/task"
)

func makeTasks(n int, round int32) []task.Task {
	tasks := make([]task.Task, n)
	for i := range tasks {
		tasks[i] = task.Task{OriginHost: "alpha", OriginPort: 9001, Round: round, Payload: int32(i)}
	}
	return tasks
}

func waitLatch(t *testing.T, l *Latch) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("drain latch never released")
	}
}

func TestPoolDrain(t *testing.T) {
	t.Run("completes every task and signals once", func(t *testing.T) {
		completed := atomic.NewInt64(0)
		p := New(Config{
			Size:       4,
			Miner:      task.Miner{Difficulty: 4},
			OnTaskDone: func(task.Task) { completed.Inc() },
		})
		defer p.Stop()

		drain := NewLatch()
		p.Submit(makeTasks(37, 1), drain)
		p.Start()

		waitLatch(t, drain)
		assert.Equal(t, int64(37), completed.Load())
	})

	t.Run("drain waits for in-flight tasks", func(t *testing.T) {
		var mu sync.Mutex
		done := 0
		p := New(Config{
			Size:  2,
			Miner: task.Miner{Difficulty: 4},
			OnTaskDone: func(task.Task) {
				mu.Lock()
				done++
				mu.Unlock()
			},
		})
		defer p.Stop()

		p.Start()
		drain := NewLatch()
		p.Submit(makeTasks(5, 1), drain)

		waitLatch(t, drain)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 5, done)
	})

	t.Run("rearms across rounds", func(t *testing.T) {
		completed := atomic.NewInt64(0)
		p := New(Config{
			Size:       2,
			Miner:      task.Miner{Difficulty: 4},
			OnTaskDone: func(task.Task) { completed.Inc() },
		})
		defer p.Stop()
		p.Start()

		for round := int32(1); round <= 3; round++ {
			drain := NewLatch()
			p.Submit(makeTasks(10, round), drain)
			waitLatch(t, drain)
		}
		assert.Equal(t, int64(30), completed.Load())
	})
}

func TestPoolSizeClamp(t *testing.T) {
	assert.Equal(t, MinSize, New(Config{Size: 0}).Size())
	assert.Equal(t, MinSize, New(Config{Size: 1}).Size())
	assert.Equal(t, 8, New(Config{Size: 8}).Size())
	assert.Equal(t, MaxSize, New(Config{Size: 99}).Size())
}

func TestPoolStartIdempotent(t *testing.T) {
	p := New(Config{Size: 2, Miner: task.Miner{Difficulty: 4}})
	defer p.Stop()
	p.Start()
	p.Start() // second call must not spawn more workers or panic

	drain := NewLatch()
	p.Submit(makeTasks(3, 1), drain)
	waitLatch(t, drain)
}

func TestLatch(t *testing.T) {
	t.Run("release is one-shot", func(t *testing.T) {
		l := NewLatch()
		require.False(t, l.Released())

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Release()
			}()
		}
		wg.Wait()
		assert.True(t, l.Released())
		l.Wait() // must not block after release
	})

	t.Run("wakes waiters", func(t *testing.T) {
		l := NewLatch()
		released := make(chan struct{})
		go func() {
			l.Wait()
			close(released)
		}()
		l.Release()
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatal("waiter never woke")
		}
	})
}

// The miner is a pure function; this guards the safety net around it. A
// task whose proof-of-work blows up is still counted as completed so the
// round can terminate.
func TestExecuteSurvivesPanic(t *testing.T) {
	completed := atomic.NewInt64(0)
	p := New(Config{
		Size:       2,
		OnTaskDone: func(task.Task) { completed.Inc() },
	})
	defer p.Stop()
	p.mine = func(in task.Task) task.Result {
		if in.Payload == 1 {
			panic(fmt.Sprintf("corrupt work unit %v", in))
		}
		return task.Result{}
	}

	drain := NewLatch()
	p.Submit(makeTasks(4, 1), drain)
	p.Start()

	waitLatch(t, drain)
	assert.Equal(t, int64(4), completed.Load())
}
