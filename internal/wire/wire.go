// Package wire defines the messages exchanged between compute nodes and
// the registry, and their binary encoding.
//
// Every message travels as one length-prefixed frame:
//
//	┌────────────┬─────────┬──────────────────┐
//	│ length u32 │ kind u8 │ fields …         │
//	└────────────┴─────────┴──────────────────┘
//
// The 4-byte big-endian length counts the kind byte plus the fields.
// Integers are big-endian; strings are a 4-byte length followed by raw
// bytes; booleans are a single byte. Reading and writing of frames is
// the transport's job; this package encodes and decodes the payload.
package wire

import (
	"errors"
	"fmt"
)

// Kind is the one-byte tag identifying a message on the wire.
type Kind byte

const (
	KindRegisterRequest Kind = iota + 1
	KindRegisterResponse
	KindNodesList
	KindTaskInitiate
	KindTasksCount
	KindCheckStatus
	KindPushRequest
	KindMigrateTasks
	KindMigrateResponse
	KindStatusResponse
	KindTaskComplete
	KindPullTrafficSummary
	KindTrafficSummary
)

var kindNames = map[Kind]string{
	KindRegisterRequest:    "RegisterRequest",
	KindRegisterResponse:   "RegisterResponse",
	KindNodesList:          "NodesList",
	KindTaskInitiate:       "TaskInitiate",
	KindTasksCount:         "TasksCount",
	KindCheckStatus:        "CheckStatus",
	KindPushRequest:        "PushRequest",
	KindMigrateTasks:       "MigrateTasks",
	KindMigrateResponse:    "MigrateResponse",
	KindStatusResponse:     "StatusResponse",
	KindTaskComplete:       "TaskComplete",
	KindPullTrafficSummary: "PullTrafficSummary",
	KindTrafficSummary:     "TrafficSummary",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
}

// ErrUnknownKind is returned by Decode for a tag outside the protocol set.
var ErrUnknownKind = errors.New("wire: unknown message kind")

// ErrTruncated is returned when a payload ends before its fields do.
var ErrTruncated = errors.New("wire: truncated payload")

// ErrTrailingBytes is returned when a payload carries bytes past the last
// field of its kind.
var ErrTrailingBytes = errors.New("wire: trailing bytes after message")

// MaxBatch is the largest number of tasks a single MigrateTasks message
// may carry.
const MaxBatch = 10
