package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"edgeless/internal/apierr"
	"edgeless/internal/config"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/proxy"
	"edgeless/internal/transport"
)

// Orchestrator owns the instance table and node table and drives
// placement, patching and reconciliation (spec.md §4.1). Mutating
// operations on the same logical id are serialized through lockFor so
// concurrent PatchFunction/StopFunction/reconcile calls for one component
// never race (spec.md §5 "Per-logical-id serialization").
type Orchestrator struct {
	log    *logger.Logger
	cfg    config.OrchestratorConfig
	store  Store
	dialer transport.AgentClientDialer

	clientsMu sync.Mutex
	clients   map[model.NodeId]transport.AgentClient

	lidLocksMu sync.Mutex
	lidLocks   map[model.LogicalId]*sync.Mutex

	// nodeSF deduplicates concurrent AddNode/DelNode calls for the same
	// node id, so a flapping agent connection can't run overlapping
	// join/leave handling against itself (SPEC_FULL.md "dedup of
	// concurrent AddNode/DelNode on the same node id").
	nodeSF singleflight.Group

	mirror *proxy.Mirror
}

// AttachMirror wires a read-only placement-state mirror that is updated on
// every placement/reconciliation decision (SPEC_FULL.md "Proxy metrics
// mirror"). Optional: nil-safe when not attached, so existing callers and
// tests that construct an Orchestrator directly keep working unchanged.
func (o *Orchestrator) AttachMirror(m *proxy.Mirror) {
	o.mirror = m
}

func (o *Orchestrator) mirrorInstance(rec *model.InstanceRecord) {
	if o.mirror != nil {
		o.mirror.PutInstance(rec)
	}
}

func New(log *logger.Logger, cfg config.OrchestratorConfig, store Store, dialer transport.AgentClientDialer) *Orchestrator {
	return &Orchestrator{
		log:      log,
		cfg:      cfg,
		store:    store,
		dialer:   dialer,
		clients:  make(map[model.NodeId]transport.AgentClient),
		lidLocks: make(map[model.LogicalId]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(lid model.LogicalId) *sync.Mutex {
	o.lidLocksMu.Lock()
	defer o.lidLocksMu.Unlock()
	l, ok := o.lidLocks[lid]
	if !ok {
		l = &sync.Mutex{}
		o.lidLocks[lid] = l
	}
	return l
}

func (o *Orchestrator) client(ctx context.Context, node model.NodeDescriptor) (transport.AgentClient, error) {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	if c, ok := o.clients[node.NodeId]; ok {
		return c, nil
	}
	c, err := o.dialer.Dial(ctx, node.AgentUrl)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: dial agent %s: %w", node.NodeId, err)
	}
	o.clients[node.NodeId] = c
	return c, nil
}

func (o *Orchestrator) dropClient(node model.NodeId) {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	if c, ok := o.clients[node]; ok {
		c.Close()
		delete(o.clients, node)
	}
}

// StartFunction places a new logical component, spawning its active
// replica and replicationFactor-1 hot standbys (spec.md §4.1, §8 scenario
// A). Each standby is placed on a distinct node from the active replica
// when enough feasible nodes exist; otherwise the instance comes up
// Degraded.
func (o *Orchestrator) StartFunction(ctx context.Context, req model.SpawnRequest) (model.LogicalId, error) {
	lid := model.NewComponentId()
	if req.Lid != nil {
		lid = *req.Lid
	}

	mu := o.lockFor(lid)
	mu.Lock()
	defer mu.Unlock()

	dreq := model.ParseDeploymentRequirements(req.Annotations)
	candidates, err := feasibleNodes(req.ClassSpec, dreq, o.store.ListNodes(ctx))
	if err != nil {
		return lid, apierr.NewResponseError("placement failed", err)
	}
	if len(candidates) == 0 {
		return lid, apierr.NewResponseError("no feasible node", apierr.ErrNoFeasibleNode)
	}

	rec := &model.InstanceRecord{
		Lid:          lid,
		Class:        req.ClassSpec,
		Requirements: dreq,
		Annotations:  req.Annotations,
		Replication:  req.EffectiveReplicationFactor(),
		Patch:        make(map[string]model.LogicalId),
	}

	used := map[model.NodeId]bool{}
	for replica := 0; replica < rec.Replication; replica++ {
		node, ok := selectNode(candidates, used)
		if !ok {
			break
		}
		used[node.NodeId] = true

		instanceId, err := o.startOnNode(ctx, node, req, lid)
		if err != nil {
			o.log.Warn("start replica failed", "lid", lid, "node", node.NodeId, "error", err)
			continue
		}
		if replica == 0 {
			rec.Active = instanceId
		} else {
			rec.Standby = append(rec.Standby, instanceId)
		}
	}

	rec.Degraded = rec.LiveReplicaCount() < rec.Replication
	if rec.Active.IsNil() && len(rec.Standby) > 0 {
		rec.PromoteStandby()
	}
	if rec.Active.IsNil() {
		return lid, apierr.NewResponseError("no replica could be started", apierr.ErrNoFeasibleNode)
	}

	if err := o.store.PutInstance(ctx, rec); err != nil {
		return lid, apierr.NewResponseError("failed to persist instance", err)
	}
	o.mirrorInstance(rec)
	return lid, nil
}

func (o *Orchestrator) startOnNode(ctx context.Context, node model.NodeDescriptor, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error) {
	client, err := o.client(ctx, node)
	if err != nil {
		return model.InstanceId{}, err
	}
	instanceId, err := client.StartFunction(ctx, req, lid)
	if err != nil {
		return model.InstanceId{}, err
	}
	return instanceId, nil
}

// StopFunction tears down every replica of lid and removes it from the
// instance table.
func (o *Orchestrator) StopFunction(ctx context.Context, lid model.LogicalId) error {
	mu := o.lockFor(lid)
	mu.Lock()
	defer mu.Unlock()

	rec, ok := o.store.GetInstance(ctx, lid)
	if !ok {
		return apierr.NewResponseError("unknown logical id", apierr.ErrUnknownLogicalID)
	}

	replicas := append([]model.InstanceId{}, rec.Standby...)
	if !rec.Active.IsNil() {
		replicas = append(replicas, rec.Active)
	}
	for _, inst := range replicas {
		node, ok := o.store.GetNode(ctx, inst.NodeId)
		if !ok {
			continue
		}
		client, err := o.client(ctx, node)
		if err != nil {
			o.log.Warn("stop: dial failed", "lid", lid, "node", node.NodeId, "error", err)
			continue
		}
		if err := client.StopFunction(ctx, inst); err != nil {
			o.log.Warn("stop: agent rejected stop", "lid", lid, "instance", inst, "error", err)
		}
	}
	if err := o.store.DeleteInstance(ctx, lid); err != nil {
		return err
	}
	if o.mirror != nil {
		o.mirror.DeleteInstance(lid)
	}
	return nil
}

// PatchFunction replaces lid's output wiring and propagates it to every
// live replica (spec.md §4.1 "Patch fan-out").
func (o *Orchestrator) PatchFunction(ctx context.Context, lid model.LogicalId, patch map[string]model.LogicalId) error {
	mu := o.lockFor(lid)
	mu.Lock()
	defer mu.Unlock()

	rec, ok := o.store.GetInstance(ctx, lid)
	if !ok {
		return apierr.NewResponseError("unknown logical id", apierr.ErrUnknownLogicalID)
	}
	rec.Patch = patch

	resolved := make(map[string]model.InstanceId, len(patch))
	for channel, targetLid := range patch {
		target, ok := o.store.GetInstance(ctx, targetLid)
		if !ok || target.Active.IsNil() {
			o.log.Warn("patch: target lid has no active replica", "lid", lid, "channel", channel, "target", targetLid)
			continue
		}
		resolved[channel] = target.Active
	}

	replicas := append([]model.InstanceId{}, rec.Standby...)
	if !rec.Active.IsNil() {
		replicas = append(replicas, rec.Active)
	}
	var lastErr error
	for _, inst := range replicas {
		node, ok := o.store.GetNode(ctx, inst.NodeId)
		if !ok {
			continue
		}
		client, err := o.client(ctx, node)
		if err != nil {
			lastErr = err
			continue
		}
		if err := client.PatchFunction(ctx, inst, resolved); err != nil {
			lastErr = err
			o.log.Warn("patch: agent rejected patch", "lid", lid, "instance", inst, "error", err)
		}
	}

	if err := o.store.PutInstance(ctx, rec); err != nil {
		return apierr.NewResponseError("failed to persist patch", err)
	}
	o.mirrorInstance(rec)
	if lastErr != nil {
		return apierr.NewResponseError("patch partially failed", lastErr)
	}
	return nil
}
