// Package events defines the in-process event bus and the events passed
// between the poller and its consumers.
package events

import (
	"time"

	"github.com/bzfquery/bzfquery/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Poll results
	EventSnapshotCollected EventType = "snapshot_collected"
	EventQueryFailed       EventType = "query_failed"

	// System events
	EventShutdown EventType = "shutdown"
)

// PollState is the outcome of the most recent poll of a server.
type PollState int

const (
	PollStatePending PollState = iota
	PollStateOnline
	PollStateFailed
)

var pollStateStrings = map[PollState]string{
	PollStatePending: "pending",
	PollStateOnline:  "online",
	PollStateFailed:  "failed",
}

// String returns the string representation of PollState.
func (s PollState) String() string {
	if str, ok := pollStateStrings[s]; ok {
		return str
	}
	return "pending"
}

// MarshalJSON serializes PollState as a JSON string (e.g. "online").
func (s PollState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SnapshotPayload carries a successful poll.
type SnapshotPayload struct {
	Server   string
	Snapshot *protocol.Snapshot
}

// QueryFailedPayload carries a failed poll.
type QueryFailedPayload struct {
	Server   string
	Address  string
	Stage    string
	Error    string
	FailedAt time.Time
}

// ShutdownPayload is emitted once when serve mode stops.
type ShutdownPayload struct {
	Reason string
}
