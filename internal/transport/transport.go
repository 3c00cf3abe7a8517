// Package transport carries wire messages over TCP. Each peer connection
// is duplex: a dedicated sender goroutine drains a queue of encoded
// frames, preserving enqueue order, and a receiver goroutine reads one
// length-prefixed frame at a time and dispatches the decoded message
// synchronously to the owner's handler.
//
// Any I/O or decode error closes the connection and is logged; nothing
// here reconnects. Callers that need a connection back dial again.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/ringfab/internal/wire"
)

// MaxFrame bounds a frame payload. The largest legitimate message is a
// MigrateTasks batch; a frame past this size is malformed.
const MaxFrame = 1 << 20

// sendQueueDepth is the number of frames a sender buffers before Send
// blocks.
const sendQueueDepth = 256

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Handler receives every message decoded from a connection, on the
// connection's receiver goroutine.
type Handler func(m wire.Message, c *Conn)

// Conn is one duplex peer connection.
type Conn struct {
	id     string
	logger *zap.Logger
	nc     net.Conn

	sendCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an established net.Conn and starts its sender and receiver.
// The handler is invoked for every decoded message until the connection
// closes.
func New(nc net.Conn, handler Handler, logger *zap.Logger) *Conn {
	c := &Conn{
		id:     uuid.NewString()[:8],
		nc:     nc,
		sendCh: make(chan []byte, sendQueueDepth),
		closed: make(chan struct{}),
	}
	c.logger = logger.With(
		zap.String("conn", c.id),
		zap.String("remote", nc.RemoteAddr().String()),
	)
	go c.sendLoop()
	go c.receiveLoop(handler)
	return c
}

// Dial connects to addr, retrying with exponential backoff for a few
// seconds to ride out peers that are still binding their listeners.
func Dial(addr string, handler Handler, logger *zap.Logger) (*Conn, error) {
	var nc net.Conn
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	err := backoff.Retry(func() error {
		var err error
		nc, err = net.DialTimeout("tcp", addr, 2*time.Second)
		return err
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return New(nc, handler, logger), nil
}

// Serve accepts connections from ln until it closes, wrapping each in a
// Conn bound to the given handler.
func Serve(ln net.Listener, handler Handler, logger *zap.Logger) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		New(nc, handler, logger)
	}
}

// Send encodes m and queues it for the sender goroutine. Messages from
// one goroutine are written in the order they were sent.
func (c *Conn) Send(m wire.Message) error {
	payload, err := wire.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	case c.sendCh <- payload:
		return nil
	}
}

// Close tears the connection down. Safe to call from handlers and from
// multiple goroutines.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.nc.Close()
	})
	return nil
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

func (c *Conn) sendLoop() {
	w := bufio.NewWriter(c.nc)
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.sendCh:
			if err := writeFrame(w, payload); err != nil {
				c.logger.Warn("send failed", zap.Error(err))
				c.Close()
				return
			}
			// Flush eagerly unless more frames are already queued.
			if len(c.sendCh) == 0 {
				if err := w.Flush(); err != nil {
					c.logger.Warn("flush failed", zap.Error(err))
					c.Close()
					return
				}
			}
		}
	}
}

func (c *Conn) receiveLoop(handler Handler) {
	r := bufio.NewReader(c.nc)
	for {
		payload, err := readFrame(r)
		if err != nil {
			select {
			case <-c.closed:
			default:
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("receive failed", zap.Error(err))
				}
				c.Close()
			}
			return
		}
		m, err := wire.Decode(payload)
		if err != nil {
			c.logger.Warn("malformed frame", zap.Error(err))
			c.Close()
			return
		}
		handler(m, c)
	}
}

func writeFrame(w *bufio.Writer, payload []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n == 0 || n > MaxFrame {
		return nil, fmt.Errorf("transport: frame length %d out of range", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
