// Package engine implements the group transition engine: the pure decision
// function that, given the current recorded state of every node in one
// group plus the latest report from one node, decides which node(s) must
// move to which new goal state (spec.md §4.2).
//
// The engine is modeled on the teacher's resize.DecisionEngine shape
// (construct with the inputs, call one method to get a decision) but,
// unlike a resize decision, a single invocation here can produce several
// simultaneous assignments (e.g. R3 moves one node to secondary and
// another to primary in the same call).
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcbachmann/pg-auto-failover/internal/clock"
	"github.com/marcbachmann/pg-auto-failover/internal/health"
	"github.com/marcbachmann/pg-auto-failover/pkg/formation"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// ErrInconsistentSnapshot is returned when a rule that requires a locatable
// primary-like node cannot find one. Per spec.md §7, this is logged at
// error level by the caller; the engine itself only reports it.
var ErrInconsistentSnapshot = errors.New("engine: no primary-like node found in group snapshot")

// Assignment is one (node, new goal state) decision produced by the
// engine, paired with a human-readable description for the event emitter.
type Assignment struct {
	Node        node.Node
	GoalState   state.ReplicationState
	Description string
}

// Engine is the pure, side-effect-free transition engine. It holds no
// mutable state and is safe to invoke concurrently from any number of
// group workers, provided each is given a consistent snapshot (spec.md §5).
type Engine struct {
	Clock clock.Clock

	// ProcessStartTime is when the coordinator process started; it gates
	// the startup-grace clause of health.IsUnhealthy.
	ProcessStartTime time.Time
}

// Evaluate runs the transition engine for a single report: reportingID is
// the node that just reported in, nodes is the full membership of its
// group (including itself), and f is the group's formation record.
//
// Evaluation order follows spec.md §4.2 exactly: rules are tried R1
// through R13 in order, and the first rule whose guard holds produces the
// (possibly empty, for R12, possibly multi-element) assignment list. The
// function is total: every legal combination of inputs reaches a defined
// outcome, including the empty list for "no rule fires" (spec.md §7,
// "unmatched transition" — a normal outcome, not an error).
func (e Engine) Evaluate(reportingID int64, nodes []node.Node, f formation.Formation) ([]Assignment, error) {
	reporting, ok := findByID(nodes, reportingID)
	if !ok {
		return nil, fmt.Errorf("engine: reporting node %d not present in group snapshot", reportingID)
	}

	others := otherThan(nodes, reportingID)
	// P is always sought among the other nodes: when the reporting node
	// is itself the (ex-)primary completing its lineage (e.g. R9's
	// reporting ∈ demoted), it must not be mistaken for P.
	primary, hasPrimary := findPrimary(others)

	c := e.clock()
	start := e.ProcessStartTime

	// R1: sole node collapse.
	if len(nodes) == 1 && reporting.ReportedState != state.Single {
		return []Assignment{{
			Node:        reporting,
			GoalState:   state.Single,
			Description: "sole node in group collapses directly to single",
		}}, nil
	}

	// R2: standby admitted.
	if reporting.IsCurrentState(state.WaitStandby) {
		if !hasPrimary {
			return nil, ErrInconsistentSnapshot
		}
		if isAt(primary, state.WaitPrimary) || isAt(primary, state.JoinPrimary) {
			return []Assignment{{
				Node:        reporting,
				GoalState:   state.CatchingUp,
				Description: "new standby admitted by primary, begins streaming",
			}}, nil
		}
	}

	// R3: caught up.
	if reporting.IsCurrentState(state.CatchingUp) {
		if !hasPrimary {
			return nil, ErrInconsistentSnapshot
		}
		if (isAt(primary, state.WaitPrimary) || isAt(primary, state.JoinPrimary)) &&
			health.IsHealthy(reporting) &&
			health.LagWithin(reporting, primary, f.EnableSyncLagThreshold) {
			return []Assignment{
				{Node: reporting, GoalState: state.Secondary, Description: "standby caught up within enable-sync threshold"},
				{Node: primary, GoalState: state.Primary, Description: "synchronous replication enabled, healthy standby available"},
			}, nil
		}
	}

	// R4: primary failed, standby will take over.
	if reporting.IsCurrentState(state.Secondary) {
		if !hasPrimary {
			return nil, ErrInconsistentSnapshot
		}
		if primary.IsPrimaryLike() &&
			health.IsUnhealthy(c, primary, f, start) &&
			health.IsHealthy(reporting) &&
			health.LagWithin(reporting, primary, f.PromoteLagThreshold) &&
			reporting.CandidatePriority > 0 &&
			reporting.ReplicationQuorum {
			return []Assignment{
				{Node: reporting, GoalState: state.PreparePromotion, Description: "primary unhealthy, standby within promote-lag threshold takes over"},
				{Node: primary, GoalState: state.Draining, Description: "former primary draining after failover initiated"},
			}, nil
		}
	}

	// R5: sharded short-cut from prepare_promotion.
	if reporting.IsCurrentState(state.PreparePromotion) {
		if !hasPrimary {
			return nil, ErrInconsistentSnapshot
		}
		if f.IsSharded() && reporting.GroupID > 0 {
			return []Assignment{
				{Node: reporting, GoalState: state.WaitPrimary, Description: "sharded formation: routing layer already fenced old primary"},
				{Node: primary, GoalState: state.Demoted, Description: "former primary demoted, fenced by routing layer"},
			}, nil
		}

		// R6: promotion commit, general case.
		return []Assignment{
			{Node: reporting, GoalState: state.StopReplication, Description: "promotion candidate stops replaying, about to accept writes"},
			{Node: primary, GoalState: state.DemoteTimeout, Description: "former primary given bounded window to self-fence"},
		}, nil
	}

	// R7 / R8: drain complete, or sharded short-cut from stop_replication.
	if reporting.IsCurrentState(state.StopReplication) {
		if !hasPrimary {
			return nil, ErrInconsistentSnapshot
		}
		if isAt(primary, state.DemoteTimeout) || health.DrainExpired(c, primary, f) {
			return []Assignment{
				{Node: reporting, GoalState: state.WaitPrimary, Description: "drain complete, promotion candidate becomes writable"},
				{Node: primary, GoalState: state.Demoted, Description: "former primary fully demoted"},
			}, nil
		}
		if f.IsSharded() && reporting.GroupID > 0 {
			return []Assignment{
				{Node: reporting, GoalState: state.WaitPrimary, Description: "sharded formation: routing layer already fenced old primary"},
				{Node: primary, GoalState: state.Demoted, Description: "former primary demoted, fenced by routing layer"},
			}, nil
		}
	}

	// R9: rejoin.
	if reporting.IsCurrentState(state.Demoted) {
		if !hasPrimary {
			return nil, ErrInconsistentSnapshot
		}
		if isAt(primary, state.WaitPrimary) {
			return []Assignment{{
				Node:        reporting,
				GoalState:   state.CatchingUp,
				Description: "demoted former primary rejoins as standby",
			}}, nil
		}
	}

	// R10: first standby joins.
	if reporting.IsCurrentState(state.Single) {
		if hasWaitStandby(others) {
			return []Assignment{{
				Node:        reporting,
				GoalState:   state.WaitPrimary,
				Description: "first standby joining, synchronous replication not yet available",
			}}, nil
		}
	}

	// R11: additional standby joins.
	if reporting.IsCurrentState(state.Primary) {
		if hasWaitStandby(others) {
			return []Assignment{{
				Node:        reporting,
				GoalState:   state.JoinPrimary,
				Description: "additional standby joining an established primary",
			}}, nil
		}
	}

	// R12: standby-health bookkeeping and synchronous-replication guard.
	// O is iterated exactly once; the running count can reach zero partway
	// through and the rest of O still gets its own bookkeeping assignment.
	if reporting.IsCurrentState(state.Primary) {
		var assignments []Assignment
		count := len(others)
		quorumLost := false

		for _, o := range others {
			if o.IsCurrentState(state.Secondary) && health.IsUnhealthy(c, o, f, start) {
				assignments = append(assignments, Assignment{
					Node:        o,
					GoalState:   state.CatchingUp,
					Description: "secondary unhealthy, demoted from quorum candidacy",
				})
				count--
			} else if !o.ReplicationQuorum || o.CandidatePriority == 0 {
				count--
			}

			if count <= 0 {
				quorumLost = true
			}
		}

		if quorumLost {
			assignments = append(assignments, Assignment{
				Node:        reporting,
				GoalState:   state.WaitPrimary,
				Description: "no healthy quorum standby remains, synchronous replication disabled",
			})
		}

		if len(assignments) > 0 {
			return assignments, nil
		}
	}

	// R13: settings applied.
	if reporting.IsCurrentState(state.ApplySettings) {
		return []Assignment{{
			Node:        reporting,
			GoalState:   state.Primary,
			Description: "replication settings applied, primary resumes normal operation",
		}}, nil
	}

	// No rule fired: a normal outcome (spec.md §7, "unmatched transition").
	return nil, nil
}

func (e Engine) clock() clock.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return clock.Real{}
}

func findByID(nodes []node.Node, id int64) (node.Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return node.Node{}, false
}

func otherThan(nodes []node.Node, id int64) []node.Node {
	others := make([]node.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != id {
			others = append(others, n)
		}
	}
	return others
}

// findPrimary scans the group for the node carrying the primary role,
// per spec.md §4.2's "P". It uses the broad primary-lineage classification
// rather than the narrow primary-like one, because rules R5 through R9 run
// after the old primary has already been assigned draining, demote_timeout
// or demoted.
func findPrimary(nodes []node.Node) (node.Node, bool) {
	for _, n := range nodes {
		if n.IsPrimaryLineage() {
			return n, true
		}
	}
	return node.Node{}, false
}

// isAt reports whether n has converged to s, per the authoritative
// IsCurrentState definition (spec.md §9, Open Question b).
func isAt(n node.Node, s state.ReplicationState) bool {
	return n.IsCurrentState(s)
}

func hasWaitStandby(nodes []node.Node) bool {
	for _, n := range nodes {
		if n.IsCurrentState(state.WaitStandby) {
			return true
		}
	}
	return false
}
