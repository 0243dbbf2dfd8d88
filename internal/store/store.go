// Package store is the persistence boundary spec.md §6 calls "the
// stored procedure on the persistent store": the coordinator's only
// door to durable state. Two implementations are provided: memstore for
// tests and memory-only deployments, and pgstore backed by lib/pq.
package store

import (
	"context"
	"errors"

	"github.com/marcbachmann/pg-auto-failover/internal/events"
	"github.com/marcbachmann/pg-auto-failover/pkg/formation"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
)

// ErrNotFound is returned when a formation, group or node lookup misses.
var ErrNotFound = errors.New("store: not found")

// GroupSnapshot is the full membership of one group, as needed by
// internal/engine.Evaluate.
type GroupSnapshot struct {
	Formation formation.Formation
	Nodes     []node.Node
}

// Store is the persistence boundary the coordinator drives. Every
// method corresponds to a piece of durable state spec.md §6's four
// external operations need to read or write; none of them run the
// engine themselves.
type Store interface {
	// Formation loads a formation record by id.
	Formation(ctx context.Context, formationID string) (formation.Formation, error)

	// PutFormation creates or replaces a formation record.
	PutFormation(ctx context.Context, f formation.Formation) error

	// GroupSnapshot loads every node in (formationID, groupID), in a
	// consistent view suitable for one Evaluate call.
	GroupSnapshot(ctx context.Context, formationID string, groupID int) (GroupSnapshot, error)

	// PutNode creates or replaces a single node record.
	PutNode(ctx context.Context, n node.Node) error

	// DeleteNode removes a node from its group.
	DeleteNode(ctx context.Context, formationID string, groupID int, nodeID int64) error

	// PutEvent persists one event record. Per spec.md §4.3/§6, event rows
	// persist indefinitely alongside the in-memory notification fan-out;
	// retention is an external concern this store takes no part in.
	PutEvent(ctx context.Context, e events.Event) error

	// Close releases any underlying resources (connections, etc).
	Close() error
}
