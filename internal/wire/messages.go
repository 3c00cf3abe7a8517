package wire

import "github.com/dreamware/ringfab/internal/task"

// RegisterRequest announces a node's listening address. Nodes send it to
// the registry on startup and to each ring neighbor when the overlay
// connection is opened, so the receiver can associate the inbound
// connection with a stable peer address.
type RegisterRequest struct {
	Host string
	Port int32
}

func (RegisterRequest) Kind() Kind { return KindRegisterRequest }

// Addr returns the advertised address in host:port form.
func (m RegisterRequest) Addr() string {
	return joinAddr(m.Host, m.Port)
}

// RegisterResponse reports the outcome of an admission attempt.
type RegisterResponse struct {
	Success bool
	Info    string
}

func (RegisterResponse) Kind() Kind { return KindRegisterResponse }

// NodesList is the registry's overlay setup message: the peers the
// receiving node must dial (its downstream ring neighbors), the worker
// pool size to run, and the total overlay size.
type NodesList struct {
	Peers       []string
	PoolSize    int32
	OverlaySize int32
}

func (NodesList) Kind() Kind { return KindNodesList }

// TaskInitiate starts one round on every node.
type TaskInitiate struct {
	Round int32
}

func (TaskInitiate) Kind() Kind { return KindTaskInitiate }

// TasksCount disseminates a node's current task count around the ring.
// Origin is the host:port of the node the count belongs to; each node
// forwards the message on its outgoing edge until it circles back.
type TasksCount struct {
	Origin string
	Count  int32
}

func (TasksCount) Kind() Kind { return KindTasksCount }

// CheckStatus is sent by an underloaded node to an overloaded neighbor to
// request a migration. Deficit is how far the sender sits below the mean.
type CheckStatus struct {
	Deficit int32
}

func (CheckStatus) Kind() Kind { return KindCheckStatus }

// PushRequest is sent by an overloaded node to solicit a neighbor's
// deficit. Total is the sender's current task count.
type PushRequest struct {
	Total int32
}

func (PushRequest) Kind() Kind { return KindPushRequest }

// MigrateTasks carries a batch of at most MaxBatch tasks to a neighbor.
// The sender removes the tasks from its own set atomically with the send.
type MigrateTasks struct {
	Tasks []task.Task
}

func (MigrateTasks) Kind() Kind { return KindMigrateTasks }

// MigrateResponse acknowledges receipt of a MigrateTasks batch.
type MigrateResponse struct{}

func (MigrateResponse) Kind() Kind { return KindMigrateResponse }

// StatusResponse tells a neighbor that balancing has settled on the
// sender's side.
type StatusResponse struct{}

func (StatusResponse) Kind() Kind { return KindStatusResponse }

// TaskComplete tells the registry that the sending node drained its
// queue for the current round.
type TaskComplete struct {
	Host string
	Port int32
}

func (TaskComplete) Kind() Kind { return KindTaskComplete }

// Addr returns the reporting node's address in host:port form.
func (m TaskComplete) Addr() string {
	return joinAddr(m.Host, m.Port)
}

// PullTrafficSummary asks a node for its traffic summary.
type PullTrafficSummary struct{}

func (PullTrafficSummary) Kind() Kind { return KindPullTrafficSummary }

// TrafficSummary reports a node's per-round counters to the registry.
// Sending one resets the node's counters.
type TrafficSummary struct {
	Host      string
	Port      int32
	Generated int64
	Pushed    int64
	Pulled    int64
	Completed int64
}

func (TrafficSummary) Kind() Kind { return KindTrafficSummary }

// Addr returns the reporting node's address in host:port form.
func (m TrafficSummary) Addr() string {
	return joinAddr(m.Host, m.Port)
}
