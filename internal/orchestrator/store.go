package orchestrator

import (
	"context"
	"sync"

	"edgeless/internal/model"
)

// Store is the orchestrator's instance table and node table. InMemoryStore
// satisfies it directly; PGStore wraps it with durable persistence via
// pgx (SPEC_FULL.md "Domain stack: jackc/pgx/v5").
type Store interface {
	PutInstance(ctx context.Context, rec *model.InstanceRecord) error
	GetInstance(ctx context.Context, lid model.LogicalId) (*model.InstanceRecord, bool)
	DeleteInstance(ctx context.Context, lid model.LogicalId) error
	ListInstances(ctx context.Context) []*model.InstanceRecord

	PutNode(ctx context.Context, n model.NodeDescriptor) error
	DeleteNode(ctx context.Context, id model.NodeId) error
	GetNode(ctx context.Context, id model.NodeId) (model.NodeDescriptor, bool)
	ListNodes(ctx context.Context) []model.NodeDescriptor
}

// InMemoryStore is a map+mutex store modeled on the teacher's in-memory
// hub registries (cmd/fanout/hub.go in the source pack): one RWMutex
// guarding two maps, never held across a caller-supplied callback.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[model.LogicalId]*model.InstanceRecord
	nodes     map[model.NodeId]model.NodeDescriptor
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[model.LogicalId]*model.InstanceRecord),
		nodes:     make(map[model.NodeId]model.NodeDescriptor),
	}
}

func (s *InMemoryStore) PutInstance(ctx context.Context, rec *model.InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[rec.Lid] = rec
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, lid model.LogicalId) (*model.InstanceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.instances[lid]
	return rec, ok
}

func (s *InMemoryStore) DeleteInstance(ctx context.Context, lid model.LogicalId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, lid)
	return nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context) []*model.InstanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.InstanceRecord, 0, len(s.instances))
	for _, r := range s.instances {
		out = append(out, r)
	}
	return out
}

func (s *InMemoryStore) PutNode(ctx context.Context, n model.NodeDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.NodeId] = n
	return nil
}

func (s *InMemoryStore) DeleteNode(ctx context.Context, id model.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

func (s *InMemoryStore) GetNode(ctx context.Context, id model.NodeId) (model.NodeDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

func (s *InMemoryStore) ListNodes(ctx context.Context) []model.NodeDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NodeDescriptor, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}
