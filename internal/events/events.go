// Package events implements the two-channel event notification described
// in spec.md §4.3: every state transition decided by the engine is
// published both to a "state" channel (for subscribers tracking group
// topology) and a "log" channel (for human-facing audit trails),
// mirroring the teacher's two-tier record.EventRecorder split between
// "Normal" and "Warning" Kubernetes events.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// Kind distinguishes the two publication channels.
type Kind string

const (
	// KindState is emitted once per assignment the engine produces: a
	// node's goal state changed.
	KindState Kind = "state"

	// KindLog carries a duplicate of every state event, plus conditions
	// that never change a goal state (inconsistent snapshot, node
	// removal). A stale report or an unmatched transition emits nothing.
	KindLog Kind = "log"
)

// Event is one notification, carrying enough detail for a subscriber to
// reconstruct what happened without re-querying the store. Fields mirror
// spec.md §4.3's structured event exactly: formation id, group id, node
// id, node name, node port, previous reported state, new goal state,
// sync-state tag, reported LSN, candidate priority, quorum flag, and the
// description string.
type Event struct {
	EventID   uuid.UUID
	EmittedAt time.Time

	Kind Kind

	FormationID string
	GroupID     int
	NodeID      int64
	NodeName    string
	NodePort    int

	ReportedState state.ReplicationState
	GoalState     state.ReplicationState
	SyncState     node.SyncState
	ReportedLSN   node.LSN

	CandidatePriority int
	ReplicationQuorum bool

	Message string
}

// Sink is the publication boundary the coordinator writes to. Every
// method is non-blocking from the caller's perspective: a full
// subscriber channel drops the new event rather than stalling
// the group worker, the same trade-off controller-runtime's recorder
// makes for events the API server briefly can't accept.
type Sink interface {
	State(e Event)
	Log(e Event)
	Close()
}

// ChannelSink is the default in-process Sink: a fan-out over one
// buffered channel per subscriber per kind.
type ChannelSink struct {
	state []chan Event
	log   []chan Event
}

// NewChannelSink builds a Sink with no subscribers yet; use Subscribe to
// add one.
func NewChannelSink() *ChannelSink {
	return &ChannelSink{}
}

var _ Sink = (*ChannelSink)(nil)

// bufferSize bounds how many events a slow subscriber can lag behind
// before further sends to it are dropped.
const bufferSize = 256

// Subscribe registers a new subscriber for kind k and returns the
// receive-only channel it should range over.
func (s *ChannelSink) Subscribe(k Kind) <-chan Event {
	ch := make(chan Event, bufferSize)
	switch k {
	case KindState:
		s.state = append(s.state, ch)
	case KindLog:
		s.log = append(s.log, ch)
	}
	return ch
}

func (s *ChannelSink) State(e Event) {
	e.Kind = KindState
	fanOut(s.state, e)
}

func (s *ChannelSink) Log(e Event) {
	e.Kind = KindLog
	fanOut(s.log, e)
}

func (s *ChannelSink) Close() {
	for _, ch := range s.state {
		close(ch)
	}
	for _, ch := range s.log {
		close(ch)
	}
}

func fanOut(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// Subscriber is lagging; drop rather than block the caller.
		}
	}
}
