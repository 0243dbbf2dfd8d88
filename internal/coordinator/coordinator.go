// Package coordinator wires the transition engine, the store and the
// event sink behind the four external operations of spec.md §6, and
// enforces spec.md §5's per-group serialization: a single logical
// worker owns the decision for a group at any instant, modeled on the
// teacher's ClusterReconciler (controller-runtime guarantees one
// reconcile per Cluster object at a time; here that guarantee is made
// explicit with a plain sync.Mutex per group, since there is no
// controller-runtime work queue backing this service).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marcbachmann/pg-auto-failover/internal/clock"
	"github.com/marcbachmann/pg-auto-failover/internal/engine"
	"github.com/marcbachmann/pg-auto-failover/internal/events"
	"github.com/marcbachmann/pg-auto-failover/internal/metrics"
	"github.com/marcbachmann/pg-auto-failover/internal/store"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// ErrNodeNotFound is returned when an operation names a node id the
// coordinator has no record of.
var ErrNodeNotFound = errors.New("coordinator: node not found")

// location is where in the store a registered node lives; kept in
// memory so nodeActive/removeNode/setReplicationSettings (which address
// a node by id alone, per spec.md §6) don't need a store-wide scan.
type location struct {
	formationID string
	groupID     int
}

// Service implements the coordinator's four external operations.
type Service struct {
	store   store.Store
	sink    events.Sink
	clock   clock.Clock
	metrics *metrics.Collectors

	engine engine.Engine

	mu         sync.Mutex
	groupLocks map[string]*sync.Mutex
	locations  map[int64]location
	nextNodeID int64
}

// New builds a Service. clk and col may be nil; a nil clock defaults to
// the real wall clock and a nil metrics collector disables metrics.
func New(st store.Store, sink events.Sink, clk clock.Clock, col *metrics.Collectors) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:      st,
		sink:       sink,
		clock:      clk,
		metrics:    col,
		engine:     engine.Engine{Clock: clk, ProcessStartTime: clk.Now()},
		groupLocks: make(map[string]*sync.Mutex),
		locations:  make(map[int64]location),
	}
}

func (s *Service) groupLock(formationID string, groupID int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", formationID, groupID)

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.groupLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.groupLocks[key] = l
	}
	return l
}

func (s *Service) rememberLocation(nodeID int64, loc location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[nodeID] = loc
}

func (s *Service) forgetLocation(nodeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locations, nodeID)
}

func (s *Service) locationOf(nodeID int64) (location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[nodeID]
	return loc, ok
}

// GroupRef identifies one group within one formation.
type GroupRef struct {
	FormationID string
	GroupID     int
}

// Locations returns a snapshot of every group the coordinator currently
// tracks at least one node for; used by Sweeper to know which groups to
// re-evaluate.
func (s *Service) Locations() []GroupRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[location]bool{}
	var out []GroupRef
	for _, loc := range s.locations {
		if seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, GroupRef{loc.formationID, loc.groupID})
	}
	return out
}

// RegisterNode creates a node row and returns its id and initial goal
// state, per spec.md §6: wait_standby unless the group is currently
// empty, in which case single.
func (s *Service) RegisterNode(ctx context.Context, formationID string, groupID int, name string, port int) (int64, state.ReplicationState, error) {
	lock := s.groupLock(formationID, groupID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.store.GroupSnapshot(ctx, formationID, groupID)
	if err != nil {
		return 0, "", fmt.Errorf("coordinator: registering node: %w", err)
	}

	goal := state.WaitStandby
	if len(snap.Nodes) == 0 {
		goal = state.Single
	}

	id := atomic.AddInt64(&s.nextNodeID, 1)
	now := s.clock.Now()
	n := node.Node{
		ID:                id,
		FormationID:       formationID,
		GroupID:           groupID,
		Name:              name,
		Port:              port,
		ReportedState:     goal,
		GoalState:         goal,
		CandidatePriority: 100,
		ReplicationQuorum: true,
		ReportTime:        now,
		HealthCheckTime:   now,
		StateChangeTime:   now,
	}

	if err := s.store.PutNode(ctx, n); err != nil {
		return 0, "", fmt.Errorf("coordinator: registering node: %w", err)
	}
	s.rememberLocation(id, location{formationID, groupID})

	if err := s.emitState(ctx, n, n.ReportedState, goal, "node registered"); err != nil {
		return 0, "", err
	}
	return id, goal, nil
}

// NodeActive records a node's report and runs the engine with that node
// as the reporter, returning its resulting goal state. Per spec.md §7's
// "stale report" error kind, a reportedLSN strictly less than the
// currently stored value is rejected (other fields still update) and no
// assignment is attempted for this call.
func (s *Service) NodeActive(
	ctx context.Context,
	nodeID int64,
	reportedState state.ReplicationState,
	reportedLSN node.LSN,
	syncState node.SyncState,
	pgIsRunning bool,
) (state.ReplicationState, error) {
	if !reportedState.IsValid() {
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("unknown_state").Inc()
		}
		return "", fmt.Errorf("coordinator: node %d reported unknown state %q", nodeID, reportedState)
	}

	loc, ok := s.locationOf(nodeID)
	if !ok {
		return "", ErrNodeNotFound
	}

	lock := s.groupLock(loc.formationID, loc.groupID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.store.GroupSnapshot(ctx, loc.formationID, loc.groupID)
	if err != nil {
		return "", fmt.Errorf("coordinator: loading group snapshot: %w", err)
	}

	current, ok := findNode(snap.Nodes, nodeID)
	if !ok {
		return "", ErrNodeNotFound
	}

	stale := reportedLSN < current.ReportedLSN

	updated := current
	updated.ReportedState = reportedState
	if !stale {
		updated.ReportedLSN = reportedLSN
	}
	updated.SyncState = syncState
	updated.PgIsRunning = pgIsRunning
	updated.ReportTime = s.clock.Now()

	if err := s.store.PutNode(ctx, updated); err != nil {
		return "", fmt.Errorf("coordinator: persisting report: %w", err)
	}

	// A stale reportedLSN (spec.md §7, rule 3) still updates every other
	// report field above, but produces no assignment at all: the engine is
	// not invoked for this call.
	if stale {
		return current.GoalState, nil
	}

	snap.Nodes = replaceNode(snap.Nodes, updated)
	return s.evaluateAndApply(ctx, snap, nodeID)
}

// evaluateAndApply runs the engine for reportingID against snap and
// persists + publishes every resulting assignment, returning the
// reporting node's resulting goal state. Shared by NodeActive (driven by
// a fresh report) and Sweeper (driven by wall-clock alone).
func (s *Service) evaluateAndApply(ctx context.Context, snap store.GroupSnapshot, reportingID int64) (state.ReplicationState, error) {
	if s.metrics != nil {
		s.metrics.Evaluations.Inc()
	}

	assignments, err := s.engine.Evaluate(reportingID, snap.Nodes, snap.Formation)
	if err != nil {
		if errors.Is(err, engine.ErrInconsistentSnapshot) {
			if s.metrics != nil {
				s.metrics.Errors.WithLabelValues("inconsistent_snapshot").Inc()
			}
			reporting, _ := findNode(snap.Nodes, reportingID)
			reporting.FormationID = snap.Formation.ID
			if logErr := s.emitLog(ctx, reporting, err.Error()); logErr != nil {
				return "", logErr
			}
		}
		return "", err
	}

	reportingGoal, reportingFound := currentGoal(snap.Nodes, reportingID)

	for _, a := range assignments {
		a.Node.GoalState = a.GoalState
		a.Node.StateChangeTime = s.clock.Now()
		if err := s.store.PutNode(ctx, a.Node); err != nil {
			return "", fmt.Errorf("coordinator: persisting assignment for node %d: %w", a.Node.ID, err)
		}
		if err := s.emitState(ctx, a.Node, a.Node.ReportedState, a.GoalState, a.Description); err != nil {
			return "", err
		}
		if a.Node.ID == reportingID {
			reportingGoal, reportingFound = a.GoalState, true
		}
	}

	if !reportingFound {
		return "", ErrNodeNotFound
	}
	return reportingGoal, nil
}

// SweepGroup re-evaluates every node of one group in turn without a new
// incoming report, so that purely time-based rules (R7's drainExpired,
// R12's unhealthy-standby bookkeeping) still fire absent a fresh
// heartbeat. It is the engine-driving half of the background sweeper;
// NodeActive is the report-driving half. Each node's own last-reported
// values stand in for "its own report", and the snapshot is reloaded
// between nodes so one node's assignment is visible to the next.
func (s *Service) SweepGroup(ctx context.Context, formationID string, groupID int) error {
	lock := s.groupLock(formationID, groupID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.store.GroupSnapshot(ctx, formationID, groupID)
	if err != nil {
		return fmt.Errorf("coordinator: sweeping group %s/%d: %w", formationID, groupID, err)
	}

	ids := make([]int64, len(snap.Nodes))
	for i, n := range snap.Nodes {
		ids[i] = n.ID
	}

	for _, id := range ids {
		snap, err = s.store.GroupSnapshot(ctx, formationID, groupID)
		if err != nil {
			return fmt.Errorf("coordinator: sweeping group %s/%d: %w", formationID, groupID, err)
		}
		_, err := s.evaluateAndApply(ctx, snap, id)
		switch {
		case err == nil, errors.Is(err, engine.ErrInconsistentSnapshot), errors.Is(err, ErrNodeNotFound):
			// Inconsistent snapshots are logged by evaluateAndApply itself;
			// a node disappearing mid-sweep (removed concurrently) is not
			// a sweep failure.
		default:
			return fmt.Errorf("coordinator: sweeping node %d: %w", id, err)
		}
	}
	return nil
}

// RemoveNode deletes a node row. The next heartbeat of any remaining
// node in the group converges the group via R1 if appropriate.
func (s *Service) RemoveNode(ctx context.Context, nodeID int64) error {
	loc, ok := s.locationOf(nodeID)
	if !ok {
		return ErrNodeNotFound
	}

	lock := s.groupLock(loc.formationID, loc.groupID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.store.GroupSnapshot(ctx, loc.formationID, loc.groupID)
	if err != nil {
		return fmt.Errorf("coordinator: removing node %d: %w", nodeID, err)
	}
	removed, ok := findNode(snap.Nodes, nodeID)
	if !ok {
		return ErrNodeNotFound
	}

	if err := s.store.DeleteNode(ctx, loc.formationID, loc.groupID, nodeID); err != nil {
		return fmt.Errorf("coordinator: removing node %d: %w", nodeID, err)
	}
	s.forgetLocation(nodeID)

	return s.emitLog(ctx, removed, "node removed")
}

// SetReplicationSettings updates a node's candidate priority and quorum
// participation and, if the node is currently the converged primary,
// assigns it apply_settings to force a round-trip through the engine
// (spec.md §6, R13).
func (s *Service) SetReplicationSettings(ctx context.Context, nodeID int64, candidatePriority int, replicationQuorum bool) error {
	loc, ok := s.locationOf(nodeID)
	if !ok {
		return ErrNodeNotFound
	}

	lock := s.groupLock(loc.formationID, loc.groupID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.store.GroupSnapshot(ctx, loc.formationID, loc.groupID)
	if err != nil {
		return fmt.Errorf("coordinator: loading group snapshot: %w", err)
	}

	n, ok := findNode(snap.Nodes, nodeID)
	if !ok {
		return ErrNodeNotFound
	}

	n.CandidatePriority = candidatePriority
	n.ReplicationQuorum = replicationQuorum

	if n.IsCurrentState(state.Primary) {
		n.GoalState = state.ApplySettings
		n.StateChangeTime = s.clock.Now()
	}

	if err := s.store.PutNode(ctx, n); err != nil {
		return fmt.Errorf("coordinator: persisting replication settings for node %d: %w", nodeID, err)
	}

	return s.emitState(ctx, n, n.ReportedState, n.GoalState, "replication settings updated")
}

// emitState builds the structured event for a node whose goal state was
// just decided, persists it (spec.md §4.3/§6: "the emitter persists an
// event record and publishes a notification") and fans it out on the
// "state" channel, with a duplicate on the "log" channel.
func (s *Service) emitState(ctx context.Context, n node.Node, reported, goal state.ReplicationState, msg string) error {
	if s.metrics != nil {
		s.metrics.Assignments.WithLabelValues(n.FormationID, string(goal)).Inc()
	}
	e := s.nodeEvent(n, reported, goal, msg)
	e.Kind = events.KindState
	if err := s.store.PutEvent(ctx, e); err != nil {
		return fmt.Errorf("coordinator: persisting event: %w", err)
	}
	s.sink.State(e)
	s.sink.Log(e)
	if s.metrics != nil {
		s.metrics.Events.WithLabelValues(string(events.KindState)).Inc()
		s.metrics.Events.WithLabelValues(string(events.KindLog)).Inc()
	}
	return nil
}

// emitLog is emitState's counterpart for the "log" channel: conditions
// worth an audit trail entry that never produce an assignment (stale
// report handling aside, these are cases like an inconsistent snapshot
// or a node removal).
func (s *Service) emitLog(ctx context.Context, n node.Node, msg string) error {
	e := s.nodeEvent(n, n.ReportedState, n.GoalState, msg)
	e.Kind = events.KindLog
	if err := s.store.PutEvent(ctx, e); err != nil {
		return fmt.Errorf("coordinator: persisting event: %w", err)
	}
	s.sink.Log(e)
	if s.metrics != nil {
		s.metrics.Events.WithLabelValues(string(events.KindLog)).Inc()
	}
	return nil
}

// nodeEvent fills every field spec.md §4.3 names from n, the node the
// event concerns.
func (s *Service) nodeEvent(n node.Node, reported, goal state.ReplicationState, msg string) events.Event {
	return events.Event{
		EventID:           uuid.New(),
		EmittedAt:         s.clock.Now(),
		FormationID:       n.FormationID,
		GroupID:           n.GroupID,
		NodeID:            n.ID,
		NodeName:          n.Name,
		NodePort:          n.Port,
		ReportedState:     reported,
		GoalState:         goal,
		SyncState:         n.SyncState,
		ReportedLSN:       n.ReportedLSN,
		CandidatePriority: n.CandidatePriority,
		ReplicationQuorum: n.ReplicationQuorum,
		Message:           msg,
	}
}

func findNode(nodes []node.Node, id int64) (node.Node, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return node.Node{}, false
}

func currentGoal(nodes []node.Node, id int64) (state.ReplicationState, bool) {
	n, ok := findNode(nodes, id)
	if !ok {
		return "", false
	}
	return n.GoalState, true
}

func replaceNode(nodes []node.Node, updated node.Node) []node.Node {
	out := make([]node.Node, len(nodes))
	copy(out, nodes)
	for i, n := range out {
		if n.ID == updated.ID {
			out[i] = updated
			return out
		}
	}
	return append(out, updated)
}
