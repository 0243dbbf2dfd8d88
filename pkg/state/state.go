// Package state defines the closed set of replication states a node can
// occupy and the predicates used to classify them.
package state

// ReplicationState is the lifecycle position of a single node inside a
// group. The set is closed: any value outside this enumeration is a
// programming error, not a runtime condition to recover from.
type ReplicationState string

const (
	// Single is the sole node in the group; accepts writes, no replication.
	Single ReplicationState = "single"

	// WaitPrimary is a writable primary with no synchronously-connected
	// healthy standby; synchronous replication is off for availability.
	WaitPrimary ReplicationState = "wait_primary"

	// Primary is a writable primary with at least one healthy standby
	// providing synchronous replication.
	Primary ReplicationState = "primary"

	// JoinPrimary is a primary preparing a replication slot and auth
	// entries for a newly joining standby while continuing to serve.
	JoinPrimary ReplicationState = "join_primary"

	// ApplySettings is a primary applying a change in replication
	// properties (quorum / candidate priority / sync settings) before
	// returning to Primary.
	ApplySettings ReplicationState = "apply_settings"

	// WaitStandby is a new node waiting for the primary to admit it.
	WaitStandby ReplicationState = "wait_standby"

	// CatchingUp is a standby streaming but not yet within the lag
	// threshold; not a promotion candidate.
	CatchingUp ReplicationState = "catchingup"

	// Secondary is a healthy, caught-up standby eligible for promotion.
	Secondary ReplicationState = "secondary"

	// PreparePromotion is a chosen standby finishing replay before
	// cutting off replication.
	PreparePromotion ReplicationState = "prepare_promotion"

	// StopReplication is a chosen standby that has stopped replaying and
	// is about to accept writes.
	StopReplication ReplicationState = "stop_replication"

	// DemoteTimeout is a former primary given a bounded window to
	// self-fence.
	DemoteTimeout ReplicationState = "demote_timeout"

	// Draining is a former primary shutting down writes.
	Draining ReplicationState = "draining"

	// Demoted is a former primary fully down; eligible to rejoin as a
	// standby.
	Demoted ReplicationState = "demoted"
)

// all is the closed enumeration, used for exhaustiveness checks.
var all = map[ReplicationState]struct{}{
	Single:           {},
	WaitPrimary:      {},
	Primary:          {},
	JoinPrimary:      {},
	ApplySettings:    {},
	WaitStandby:      {},
	CatchingUp:       {},
	Secondary:        {},
	PreparePromotion: {},
	StopReplication:  {},
	DemoteTimeout:    {},
	Draining:         {},
	Demoted:          {},
}

// IsValid reports whether s belongs to the closed enumeration.
func (s ReplicationState) IsValid() bool {
	_, ok := all[s]
	return ok
}

// primaryLike is the set of goal/reported states in which a node believes
// (or is expected to believe) that it is, or is becoming, the writable
// primary. Invariant 1 of spec.md requires at most one such node per group.
var primaryLike = map[ReplicationState]struct{}{
	Single:        {},
	WaitPrimary:   {},
	Primary:       {},
	JoinPrimary:   {},
	ApplySettings: {},
}

// IsPrimaryLike reports whether s is one of the primary-like states.
func (s ReplicationState) IsPrimaryLike() bool {
	_, ok := primaryLike[s]
	return ok
}

// standbyLike is the set of states in which a node is streaming towards
// becoming, or has become, a promotion-eligible replica of the primary.
// It does not include Demoted: a demoted node is the tail of the old
// primary's lineage, not yet a standby again (see IsPrimaryLineage).
var standbyLike = map[ReplicationState]struct{}{
	WaitStandby:      {},
	CatchingUp:       {},
	Secondary:        {},
	PreparePromotion: {},
	StopReplication:  {},
}

// IsStandbyLike reports whether s is one of the standby-like states.
func (s ReplicationState) IsStandbyLike() bool {
	_, ok := standbyLike[s]
	return ok
}

// primaryLineage is the broader set of states a group's primary can occupy
// across its whole lifetime, including its decommissioning: the narrow
// primary-like set (used for invariant 1) plus the states a former primary
// passes through on its way out (draining, demote_timeout, demoted). The
// transition engine's rules locate "the primary of the group" by scanning
// for this broader set, because by the time a standby reaches
// prepare_promotion or stop_replication the old primary has already left
// the narrow primary-like set.
var primaryLineage = unionWith(primaryLike, map[ReplicationState]struct{}{
	Draining:      {},
	DemoteTimeout: {},
	Demoted:       {},
})

func unionWith(a, b map[ReplicationState]struct{}) map[ReplicationState]struct{} {
	out := make(map[ReplicationState]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// IsPrimaryLineage reports whether s belongs to the primary's lineage of
// states, narrow primary-like states plus its decommissioning tail.
func (s ReplicationState) IsPrimaryLineage() bool {
	_, ok := primaryLineage[s]
	return ok
}

// terminal is the set of states from which no further agent-driven work is
// expected until the next registration or health transition reclaims the
// node.
var terminal = map[ReplicationState]struct{}{
	Demoted: {},
}

// IsTerminal reports whether s is a terminal state for the current
// failover round.
func (s ReplicationState) IsTerminal() bool {
	_, ok := terminal[s]
	return ok
}

func (s ReplicationState) String() string {
	return string(s)
}
