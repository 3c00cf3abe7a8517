package transport

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/wire"
)

// collector gathers messages delivered to a handler.
type collector struct {
	mu       sync.Mutex
	messages []wire.Message
	arrived  chan struct{}
}

func newCollector() *collector {
	return &collector{arrived: make(chan struct{}, 64)}
}

func (c *collector) handle(m wire.Message, _ *Conn) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
	c.arrived <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int) []wire.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		have := len(c.messages)
		c.mu.Unlock()
		if have >= n {
			break
		}
		select {
		case <-c.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, have %d", n, have)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Message(nil), c.messages...)
}

// pipePair builds two connected Conns over net.Pipe.
func pipePair(t *testing.T, left, right Handler) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	logger := zap.NewNop()
	ca := New(a, left, logger)
	cb := New(b, right, logger)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestConnDelivery(t *testing.T) {
	t.Run("round trips a message", func(t *testing.T) {
		received := newCollector()
		sender, _ := pipePair(t, func(wire.Message, *Conn) {}, received.handle)

		require.NoError(t, sender.Send(wire.TasksCount{Origin: "alpha:9001", Count: 77}))

		messages := received.waitFor(t, 1)
		assert.Equal(t, wire.TasksCount{Origin: "alpha:9001", Count: 77}, messages[0])
	})

	t.Run("preserves enqueue order", func(t *testing.T) {
		received := newCollector()
		sender, _ := pipePair(t, func(wire.Message, *Conn) {}, received.handle)

		const n = 50
		for i := 0; i < n; i++ {
			require.NoError(t, sender.Send(wire.TaskInitiate{Round: int32(i)}))
		}

		messages := received.waitFor(t, n)
		for i, m := range messages {
			assert.Equal(t, int32(i), m.(wire.TaskInitiate).Round)
		}
	})

	t.Run("send on closed connection fails", func(t *testing.T) {
		sender, _ := pipePair(t, func(wire.Message, *Conn) {}, func(wire.Message, *Conn) {})
		sender.Close()
		assert.ErrorIs(t, sender.Send(wire.MigrateResponse{}), ErrClosed)
	})
}

func TestServeAndDial(t *testing.T) {
	received := newCollector()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Serve(ln, received.handle, zap.NewNop())
	}()

	conn, err := Dial(ln.Addr().String(), func(wire.Message, *Conn) {}, zap.NewNop())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(wire.RegisterRequest{Host: "alpha", Port: 9001}))
	messages := received.waitFor(t, 1)
	assert.Equal(t, wire.RegisterRequest{Host: "alpha", Port: 9001}, messages[0])

	ln.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after listener close")
	}
}

func TestDialUnreachable(t *testing.T) {
	// Loopback port 1, where nothing listens; backoff gives up after its
	// MaxElapsedTime.
	_, err := Dial("127.0.0.1:1", func(wire.Message, *Conn) {}, zap.NewNop())
	assert.Error(t, err)
}

func TestFrameCodec(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		require.NoError(t, writeFrame(w, []byte{1, 2, 3}))
		require.NoError(t, w.Flush())

		payload, err := readFrame(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, payload)
	})

	t.Run("rejects zero-length frames", func(t *testing.T) {
		_, err := readFrame(bufio.NewReader(bytes.NewReader([]byte{0, 0, 0, 0})))
		assert.Error(t, err)
	})

	t.Run("rejects oversized frames", func(t *testing.T) {
		var header [4]byte
		header[0] = 0xFF
		_, err := readFrame(bufio.NewReader(bytes.NewReader(header[:])))
		assert.Error(t, err)
	})
}
