// Package node holds the in-memory representation of a group member: its
// reported and goal state, replication position, health and timers.
package node

import (
	"time"

	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// Health is the tri-state health tag attached to a node by the (external)
// health-check probe.
type Health string

const (
	// HealthGood means the last probe succeeded.
	HealthGood Health = "good"
	// HealthBad means the last probe failed.
	HealthBad Health = "bad"
	// HealthUnknown means no probe result has been recorded yet.
	HealthUnknown Health = "unknown"
)

// SyncState is the replica's reported synchronous-replication role, as
// surfaced by `pg_stat_replication.sync_state`.
type SyncState string

const (
	SyncStateAsync     SyncState = "async"
	SyncStatePotential SyncState = "potential"
	SyncStateSync      SyncState = "sync"
	SyncStateQuorum    SyncState = "quorum"
)

// LSN is an opaque, monotonically non-decreasing replication log position.
// It is compared and diffed but never interpreted bit-by-bit by the engine.
type LSN int64

// Node is a single member of a replication group.
type Node struct {
	// ID is a stable node identifier, unique within the formation.
	ID int64

	// FormationID identifies the owning formation.
	FormationID string

	// GroupID identifies the owning group within the formation.
	GroupID int

	// Name and Port identify the node on the network for the (external)
	// agent and health-check probe.
	Name string
	Port int

	// ReportedState is the last state the agent confirmed it had reached.
	ReportedState state.ReplicationState

	// GoalState is the assignment produced by the coordinator; the agent's
	// task is to converge ReportedState to GoalState.
	GoalState state.ReplicationState

	// ReportedLSN is the last replay/write position reported by the node.
	ReportedLSN LSN

	// SyncState is the node's last reported synchronous-replication role.
	SyncState SyncState

	// PgIsRunning is the node's last reported view of whether its
	// postgres process is up.
	PgIsRunning bool

	// Health is the tag assigned by the external health-check probe.
	Health Health

	// CandidatePriority is a non-negative integer; zero means the node is
	// never promoted.
	CandidatePriority int

	// ReplicationQuorum reports whether the node participates in the
	// synchronous replication quorum.
	ReplicationQuorum bool

	// AgentVersion is the semver of the node agent that last reported in.
	// Supplemental field: PGStore persists it; neither the transition
	// engine nor RegisterNode reads it.
	AgentVersion string

	// ReportTime is the timestamp of the last heartbeat.
	ReportTime time.Time

	// HealthCheckTime is the timestamp of the last external probe.
	HealthCheckTime time.Time

	// StateChangeTime is the timestamp at which GoalState was last assigned.
	StateChangeTime time.Time
}

// IsCurrentState reports whether the node has converged to s: both its
// reported and goal state already equal s. Per spec.md §4.2's tie-breaking
// notes, this is the authoritative definition used by every rule that reads
// "reporting ∈ <state>" — it prevents the engine from racing ahead of an
// in-flight assignment.
func (n Node) IsCurrentState(s state.ReplicationState) bool {
	return n.ReportedState == s && n.GoalState == s
}

// IsPrimaryLike reports whether the node's goal or reported state is
// primary-like, in the narrow sense constrained by invariant 1.
func (n Node) IsPrimaryLike() bool {
	return n.GoalState.IsPrimaryLike() || n.ReportedState.IsPrimaryLike()
}

// IsPrimaryLineage reports whether the node's goal or reported state
// belongs to the primary's broader lineage (primary-like plus its
// decommissioning tail). Used to locate "P" in the transition engine
// (spec.md §4.2), since by the time a standby reaches prepare_promotion or
// stop_replication the old primary has already left the narrow
// primary-like set.
func (n Node) IsPrimaryLineage() bool {
	return n.GoalState.IsPrimaryLineage() || n.ReportedState.IsPrimaryLineage()
}
