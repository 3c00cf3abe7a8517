package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dreamware/ringfab/internal/task"
)

// Encode serializes a message into a frame payload: the kind tag followed
// by the message fields. The transport prepends the length prefix.
func Encode(m Message) ([]byte, error) {
	w := newWriter(m.Kind())

	switch msg := m.(type) {
	case RegisterRequest:
		w.str(msg.Host)
		w.i32(msg.Port)
	case RegisterResponse:
		w.boolean(msg.Success)
		w.str(msg.Info)
	case NodesList:
		w.i32(int32(len(msg.Peers)))
		for _, peer := range msg.Peers {
			w.str(peer)
		}
		w.i32(msg.PoolSize)
		w.i32(msg.OverlaySize)
	case TaskInitiate:
		w.i32(msg.Round)
	case TasksCount:
		w.str(msg.Origin)
		w.i32(msg.Count)
	case CheckStatus:
		w.i32(msg.Deficit)
	case PushRequest:
		w.i32(msg.Total)
	case MigrateTasks:
		if len(msg.Tasks) > MaxBatch {
			return nil, fmt.Errorf("wire: migrate batch of %d exceeds %d", len(msg.Tasks), MaxBatch)
		}
		w.i32(int32(len(msg.Tasks)))
		for _, t := range msg.Tasks {
			w.task(t)
		}
	case MigrateResponse, StatusResponse, PullTrafficSummary:
		// tag only
	case TaskComplete:
		w.str(msg.Host)
		w.i32(msg.Port)
	case TrafficSummary:
		w.str(msg.Host)
		w.i32(msg.Port)
		w.i64(msg.Generated)
		w.i64(msg.Pushed)
		w.i64(msg.Pulled)
		w.i64(msg.Completed)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}

	return w.bytes(), nil
}

// Decode parses a frame payload produced by Encode back into its message.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, ErrTruncated
	}
	r := &reader{buf: payload[1:]}

	var m Message
	switch kind := Kind(payload[0]); kind {
	case KindRegisterRequest:
		m = RegisterRequest{Host: r.str(), Port: r.i32()}
	case KindRegisterResponse:
		m = RegisterResponse{Success: r.boolean(), Info: r.str()}
	case KindNodesList:
		n := r.count()
		peers := make([]string, 0, n)
		for i := 0; i < n; i++ {
			peers = append(peers, r.str())
		}
		m = NodesList{Peers: peers, PoolSize: r.i32(), OverlaySize: r.i32()}
	case KindTaskInitiate:
		m = TaskInitiate{Round: r.i32()}
	case KindTasksCount:
		m = TasksCount{Origin: r.str(), Count: r.i32()}
	case KindCheckStatus:
		m = CheckStatus{Deficit: r.i32()}
	case KindPushRequest:
		m = PushRequest{Total: r.i32()}
	case KindMigrateTasks:
		n := r.count()
		if r.err == nil && n > MaxBatch {
			return nil, fmt.Errorf("wire: migrate batch of %d exceeds %d", n, MaxBatch)
		}
		tasks := make([]task.Task, 0, n)
		for i := 0; i < n; i++ {
			tasks = append(tasks, r.task())
		}
		m = MigrateTasks{Tasks: tasks}
	case KindMigrateResponse:
		m = MigrateResponse{}
	case KindStatusResponse:
		m = StatusResponse{}
	case KindTaskComplete:
		m = TaskComplete{Host: r.str(), Port: r.i32()}
	case KindPullTrafficSummary:
		m = PullTrafficSummary{}
	case KindTrafficSummary:
		m = TrafficSummary{
			Host:      r.str(),
			Port:      r.i32(),
			Generated: r.i64(),
			Pushed:    r.i64(),
			Pulled:    r.i64(),
			Completed: r.i64(),
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, payload[0])
	}

	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %s has %d extra bytes", ErrTrailingBytes, m.Kind(), len(r.buf))
	}
	return m, nil
}

type writer struct {
	buf bytes.Buffer
}

func newWriter(k Kind) *writer {
	w := &writer{}
	w.buf.WriteByte(byte(k))
	return w
}

func (w *writer) i32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *writer) i64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *writer) str(s string) {
	w.i32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) boolean(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) task(t task.Task) {
	w.str(t.OriginHost)
	w.i32(t.OriginPort)
	w.i32(t.Round)
	w.i32(t.Payload)
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

// reader consumes payload fields, latching the first error so callers can
// chain reads and check once at the end.
type reader struct {
	buf []byte
	err error
}

func (r *reader) i32() int32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = ErrTruncated
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.buf[:4]))
	r.buf = r.buf[4:]
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.err = ErrTruncated
		return 0
	}
	v := int64(binary.BigEndian.Uint64(r.buf[:8]))
	r.buf = r.buf[8:]
	return v
}

func (r *reader) str() string {
	n := r.i32()
	if r.err != nil {
		return ""
	}
	if n < 0 || int(n) > len(r.buf) {
		r.err = ErrTruncated
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *reader) boolean() bool {
	if r.err != nil {
		return false
	}
	if len(r.buf) < 1 {
		r.err = ErrTruncated
		return false
	}
	v := r.buf[0] != 0
	r.buf = r.buf[1:]
	return v
}

// count reads a non-negative element count.
func (r *reader) count() int {
	n := r.i32()
	if r.err == nil && n < 0 {
		r.err = ErrTruncated
	}
	return int(n)
}

func (r *reader) task() task.Task {
	return task.Task{
		OriginHost: r.str(),
		OriginPort: r.i32(),
		Round:      r.i32(),
		Payload:    r.i32(),
	}
}

func joinAddr(host string, port int32) string {
	return fmt.Sprintf("%s:%d", host, port)
}
