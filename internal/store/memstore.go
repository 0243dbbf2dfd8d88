package store

import (
	"context"
	"sync"

	"github.com/marcbachmann/pg-auto-failover/internal/events"
	"github.com/marcbachmann/pg-auto-failover/pkg/formation"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
)

// groupKey identifies one group within one formation.
type groupKey struct {
	formationID string
	groupID     int
}

// MemStore is an in-memory Store, used by unit and integration tests and
// as a drop-in for environments without a Postgres catalog.
type MemStore struct {
	mu         sync.RWMutex
	formations map[string]formation.Formation
	nodes      map[groupKey]map[int64]node.Node
	events     []events.Event
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		formations: make(map[string]formation.Formation),
		nodes:      make(map[groupKey]map[int64]node.Node),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Formation(_ context.Context, formationID string) (formation.Formation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.formations[formationID]
	if !ok {
		return formation.Formation{}, ErrNotFound
	}
	return f, nil
}

func (m *MemStore) PutFormation(_ context.Context, f formation.Formation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.formations[f.ID] = f
	return nil
}

func (m *MemStore) GroupSnapshot(_ context.Context, formationID string, groupID int) (GroupSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.formations[formationID]
	if !ok {
		return GroupSnapshot{}, ErrNotFound
	}

	group := m.nodes[groupKey{formationID, groupID}]
	nodes := make([]node.Node, 0, len(group))
	for _, n := range group {
		nodes = append(nodes, n)
	}

	return GroupSnapshot{Formation: f, Nodes: nodes}, nil
}

func (m *MemStore) PutNode(_ context.Context, n node.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := groupKey{n.FormationID, n.GroupID}
	group, ok := m.nodes[key]
	if !ok {
		group = make(map[int64]node.Node)
		m.nodes[key] = group
	}
	group[n.ID] = n
	return nil
}

func (m *MemStore) DeleteNode(_ context.Context, formationID string, groupID int, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := groupKey{formationID, groupID}
	group, ok := m.nodes[key]
	if !ok {
		return ErrNotFound
	}
	if _, ok := group[nodeID]; !ok {
		return ErrNotFound
	}
	delete(group, nodeID)
	return nil
}

func (m *MemStore) PutEvent(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, e)
	return nil
}

// Events returns every event persisted so far, oldest first. Exposed for
// tests; MemStore's pgstore counterpart has no equivalent reader since
// spec.md leaves retrieval of persisted events out of scope.
func (m *MemStore) Events() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]events.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemStore) Close() error { return nil }
