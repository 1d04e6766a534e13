package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"edgeless/internal/model"
)

// PGStore persists the instance and node tables to Postgres via pgx/v5
// (teacher's database driver; see common/config and the teacher's
// repository layer for the connection-pool pattern this mirrors). It
// wraps an InMemoryStore as the read-through cache so GetInstance/
// GetNode stay lock-free on the hot path; writes go to both.
type PGStore struct {
	pool  *pgxpool.Pool
	cache *InMemoryStore
}

// NewPGStore connects pool and loads the existing tables into cache. The
// two tables are created if absent; EDGELESS has no migration tool in
// the teacher's stack, so DDL lives inline like common/redis/client.go's
// connection bootstrap.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool, cache: NewInMemoryStore()}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS edgeless_instances (
			lid UUID PRIMARY KEY,
			record JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS edgeless_nodes (
			node_id UUID PRIMARY KEY,
			descriptor JSONB NOT NULL
		);
	`)
	return err
}

func (s *PGStore) load(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT record FROM edgeless_instances`)
	if err != nil {
		return fmt.Errorf("orchestrator: load instances: %w", err)
	}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return err
		}
		var rec model.InstanceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			rows.Close()
			return err
		}
		s.cache.instances[rec.Lid] = &rec
	}
	rows.Close()

	rows, err = s.pool.Query(ctx, `SELECT descriptor FROM edgeless_nodes`)
	if err != nil {
		return fmt.Errorf("orchestrator: load nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		var n model.NodeDescriptor
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		s.cache.nodes[n.NodeId] = n
	}
	return rows.Err()
}

func (s *PGStore) PutInstance(ctx context.Context, rec *model.InstanceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO edgeless_instances (lid, record) VALUES ($1, $2)
		ON CONFLICT (lid) DO UPDATE SET record = EXCLUDED.record
	`, uuid.UUID(rec.Lid), raw); err != nil {
		return fmt.Errorf("orchestrator: persist instance %s: %w", rec.Lid, err)
	}
	return s.cache.PutInstance(ctx, rec)
}

func (s *PGStore) GetInstance(ctx context.Context, lid model.LogicalId) (*model.InstanceRecord, bool) {
	return s.cache.GetInstance(ctx, lid)
}

func (s *PGStore) DeleteInstance(ctx context.Context, lid model.LogicalId) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM edgeless_instances WHERE lid = $1`, uuid.UUID(lid)); err != nil {
		return err
	}
	return s.cache.DeleteInstance(ctx, lid)
}

func (s *PGStore) ListInstances(ctx context.Context) []*model.InstanceRecord {
	return s.cache.ListInstances(ctx)
}

func (s *PGStore) PutNode(ctx context.Context, n model.NodeDescriptor) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO edgeless_nodes (node_id, descriptor) VALUES ($1, $2)
		ON CONFLICT (node_id) DO UPDATE SET descriptor = EXCLUDED.descriptor
	`, uuid.UUID(n.NodeId), raw); err != nil {
		return fmt.Errorf("orchestrator: persist node %s: %w", n.NodeId, err)
	}
	return s.cache.PutNode(ctx, n)
}

func (s *PGStore) DeleteNode(ctx context.Context, id model.NodeId) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM edgeless_nodes WHERE node_id = $1`, uuid.UUID(id)); err != nil {
		return err
	}
	return s.cache.DeleteNode(ctx, id)
}

func (s *PGStore) GetNode(ctx context.Context, id model.NodeId) (model.NodeDescriptor, bool) {
	return s.cache.GetNode(ctx, id)
}

func (s *PGStore) ListNodes(ctx context.Context) []model.NodeDescriptor {
	return s.cache.ListNodes(ctx)
}
