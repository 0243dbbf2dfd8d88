package store

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/marcbachmann/pg-auto-failover/internal/events"
	"github.com/marcbachmann/pg-auto-failover/pkg/formation"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// PGStore is a Store backed by a Postgres catalog schema (node,
// formation, event tables), reading and upserting single records with
// plain SQL against that schema; the four external operations of
// spec.md §6 run in internal/coordinator, not as stored procedures
// here — database/sql with the lib/pq driver, the same pairing
// the teacher uses for every direct-connection codepath (instance
// initdb, logical replication plugin commands).
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// OpenPGStore opens a connection pool against dsn and verifies it with a
// ping before returning.
func OpenPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging postgres: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (p *PGStore) Formation(ctx context.Context, formationID string) (formation.Formation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, enable_sync_lag_threshold, promote_lag_threshold,
		       drain_timeout_seconds, unhealthy_timeout_seconds, startup_grace_seconds
		FROM formation WHERE id = $1`, formationID)

	var f formation.Formation
	var kind string
	var drainS, unhealthyS, graceS int64
	if err := row.Scan(&f.ID, &kind, &f.EnableSyncLagThreshold, &f.PromoteLagThreshold,
		&drainS, &unhealthyS, &graceS); err != nil {
		if err == sql.ErrNoRows {
			return formation.Formation{}, ErrNotFound
		}
		return formation.Formation{}, fmt.Errorf("store: loading formation %s: %w", formationID, err)
	}

	f.Kind = formation.Kind(kind)
	f.DrainTimeout = secondsToDuration(drainS)
	f.UnhealthyTimeout = secondsToDuration(unhealthyS)
	f.StartupGrace = secondsToDuration(graceS)
	return f, nil
}

func (p *PGStore) PutFormation(ctx context.Context, f formation.Formation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO formation (id, kind, enable_sync_lag_threshold, promote_lag_threshold,
		                        drain_timeout_seconds, unhealthy_timeout_seconds, startup_grace_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			enable_sync_lag_threshold = EXCLUDED.enable_sync_lag_threshold,
			promote_lag_threshold = EXCLUDED.promote_lag_threshold,
			drain_timeout_seconds = EXCLUDED.drain_timeout_seconds,
			unhealthy_timeout_seconds = EXCLUDED.unhealthy_timeout_seconds,
			startup_grace_seconds = EXCLUDED.startup_grace_seconds`,
		f.ID, string(f.Kind), f.EnableSyncLagThreshold, f.PromoteLagThreshold,
		durationToSeconds(f.DrainTimeout), durationToSeconds(f.UnhealthyTimeout), durationToSeconds(f.StartupGrace))
	if err != nil {
		return fmt.Errorf("store: writing formation %s: %w", f.ID, err)
	}
	return nil
}

func (p *PGStore) GroupSnapshot(ctx context.Context, formationID string, groupID int) (GroupSnapshot, error) {
	f, err := p.Formation(ctx, formationID)
	if err != nil {
		return GroupSnapshot{}, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, port, reported_state, goal_state, reported_lsn, sync_state,
		       pg_is_running, health, candidate_priority, replication_quorum, agent_version,
		       report_time, health_check_time, state_change_time
		FROM node WHERE formation_id = $1 AND group_id = $2`, formationID, groupID)
	if err != nil {
		return GroupSnapshot{}, fmt.Errorf("store: loading group %s/%d: %w", formationID, groupID, err)
	}
	defer rows.Close()

	var nodes []node.Node
	for rows.Next() {
		var n node.Node
		var reportedState, goalState, syncState, health string
		n.FormationID = formationID
		n.GroupID = groupID
		if err := rows.Scan(&n.ID, &n.Name, &n.Port, &reportedState, &goalState, &n.ReportedLSN,
			&syncState, &n.PgIsRunning, &health, &n.CandidatePriority, &n.ReplicationQuorum,
			&n.AgentVersion, &n.ReportTime, &n.HealthCheckTime, &n.StateChangeTime); err != nil {
			return GroupSnapshot{}, fmt.Errorf("store: scanning node row: %w", err)
		}
		n.ReportedState = state.ReplicationState(reportedState)
		n.GoalState = state.ReplicationState(goalState)
		n.SyncState = node.SyncState(syncState)
		n.Health = node.Health(health)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return GroupSnapshot{}, fmt.Errorf("store: iterating group %s/%d: %w", formationID, groupID, err)
	}

	return GroupSnapshot{Formation: f, Nodes: nodes}, nil
}

func (p *PGStore) PutNode(ctx context.Context, n node.Node) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO node (id, formation_id, group_id, name, port, reported_state, goal_state,
		                   reported_lsn, sync_state, pg_is_running, health, candidate_priority,
		                   replication_quorum, agent_version, report_time, health_check_time, state_change_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			reported_state = EXCLUDED.reported_state,
			goal_state = EXCLUDED.goal_state,
			reported_lsn = EXCLUDED.reported_lsn,
			sync_state = EXCLUDED.sync_state,
			pg_is_running = EXCLUDED.pg_is_running,
			health = EXCLUDED.health,
			candidate_priority = EXCLUDED.candidate_priority,
			replication_quorum = EXCLUDED.replication_quorum,
			agent_version = EXCLUDED.agent_version,
			report_time = EXCLUDED.report_time,
			health_check_time = EXCLUDED.health_check_time,
			state_change_time = EXCLUDED.state_change_time`,
		n.ID, n.FormationID, n.GroupID, n.Name, n.Port, string(n.ReportedState), string(n.GoalState),
		n.ReportedLSN, string(n.SyncState), n.PgIsRunning, string(n.Health), n.CandidatePriority,
		n.ReplicationQuorum, n.AgentVersion, n.ReportTime, n.HealthCheckTime, n.StateChangeTime)
	if err != nil {
		return fmt.Errorf("store: writing node %d: %w", n.ID, err)
	}
	return nil
}

func (p *PGStore) DeleteNode(ctx context.Context, formationID string, groupID int, nodeID int64) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM node WHERE id = $1 AND formation_id = $2 AND group_id = $3`,
		nodeID, formationID, groupID)
	if err != nil {
		return fmt.Errorf("store: deleting node %d: %w", nodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: checking delete result for node %d: %w", nodeID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PGStore) PutEvent(ctx context.Context, e events.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO event (event_id, emitted_at, kind, formation_id, group_id, node_id, node_name,
		                    node_port, reported_state, goal_state, sync_state, reported_lsn,
		                    candidate_priority, replication_quorum, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.EventID, e.EmittedAt, string(e.Kind), e.FormationID, e.GroupID, e.NodeID, e.NodeName,
		e.NodePort, string(e.ReportedState), string(e.GoalState), string(e.SyncState), e.ReportedLSN,
		e.CandidatePriority, e.ReplicationQuorum, e.Message)
	if err != nil {
		return fmt.Errorf("store: writing event %s: %w", e.EventID, err)
	}
	return nil
}

func (p *PGStore) Close() error {
	return p.db.Close()
}
