// Package formation holds the configuration shared by every group within a
// formation: its kind and the lag thresholds/timers the engine treats as
// inputs rather than constants.
package formation

import "time"

// Kind tags a formation as plain or sharded. Sharded formations are
// consulted by the transition engine's short-cut rules (R5, R8): a
// routing layer in front of a sharded deployment has already fenced writes
// on the old primary, so the demote-timeout dance can be skipped.
type Kind string

const (
	// Plain is a formation with no external routing layer fencing writes.
	Plain Kind = "plain"

	// Sharded is a formation whose routing layer has already fenced writes
	// on an old primary once it leaves the primary-like set.
	Sharded Kind = "sharded"
)

// Formation is the configuration record shared by every group of a
// formation.
type Formation struct {
	// ID uniquely identifies the formation.
	ID string

	// Kind is Plain or Sharded.
	Kind Kind

	// EnableSyncLagThreshold is the maximum LSN lag, in bytes, a catching-up
	// standby may have before it is promoted to secondary and synchronous
	// replication is enabled on the primary (rule R3).
	EnableSyncLagThreshold int64

	// PromoteLagThreshold is the maximum LSN lag, in bytes, a secondary may
	// have relative to a failed primary before it is allowed to take over
	// (rule R4).
	PromoteLagThreshold int64

	// DrainTimeout is the bounded window during which a former primary is
	// expected to self-fence (rule drainExpired, R7).
	DrainTimeout time.Duration

	// UnhealthyTimeout is how long a node may go without a report before it
	// is considered unhealthy, provided its last health probe also came
	// back bad.
	UnhealthyTimeout time.Duration

	// StartupGrace is the window after coordinator process start during
	// which unhealthy detection is suppressed, to avoid false positives
	// while the coordinator is still rebuilding its view of the world.
	StartupGrace time.Duration
}

// IsSharded reports whether the formation is a sharded deployment.
func (f Formation) IsSharded() bool {
	return f.Kind == Sharded
}
