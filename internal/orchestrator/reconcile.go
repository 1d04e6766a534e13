package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"edgeless/internal/model"
	"edgeless/internal/transport"
)

// AddNode registers a new node and triggers reconciliation so that any
// Degraded instance that can now meet its replication factor gets a
// replica started on it (spec.md §4.1, §8 scenario A step 2: the
// standby/hot-spare pattern). Concurrent AddNode/DelNode calls for the
// same node id are deduplicated via nodeSF so a flapping node can't race
// its own join/leave handling against itself.
func (o *Orchestrator) AddNode(ctx context.Context, node model.NodeDescriptor) error {
	_, err, _ := o.nodeSF.Do(node.NodeId.String(), func() (any, error) {
		if err := o.store.PutNode(ctx, node); err != nil {
			return nil, err
		}
		if o.mirror != nil {
			o.mirror.PutNode(node)
		}
		o.reconcileDegraded(ctx)
		return nil, nil
	})
	return err
}

// DelNode deregisters node, failing over every replica it was hosting:
// the active replica on a departing node promotes its best standby (if
// any) and re-places a fresh standby elsewhere; a lone active replica
// with no standby is re-spawned from scratch if a feasible node remains.
// For the node hosting the active replica (cf.
// original_source/edgeless_orc/src/tests/failover_tests.rs Scenario A),
// one StartFunction is issued for the replacement standby; PatchFunction
// goes to the promoted replica, to every replica of each component whose
// patch targets the failed-over one, and once more to all live replicas
// after the replacement starts; an UpdatePeers::Del fans out to every
// remaining node. A lone active replica that is re-spawned rather than
// promoted is not re-announced to the components that target it.
func (o *Orchestrator) DelNode(ctx context.Context, id model.NodeId) error {
	_, err, _ := o.nodeSF.Do(id.String(), func() (any, error) {
		o.dropClient(id)
		if err := o.store.DeleteNode(ctx, id); err != nil {
			return nil, err
		}
		if o.mirror != nil {
			o.mirror.DeleteNode(id)
		}

		for _, rec := range o.store.ListInstances(ctx) {
			mu := o.lockFor(rec.Lid)
			mu.Lock()
			o.reconcileInstanceAfterNodeLoss(ctx, rec, id)
			mu.Unlock()
		}

		o.fanOutPeerDel(ctx, id)
		return nil, nil
	})
	return err
}

func (o *Orchestrator) reconcileInstanceAfterNodeLoss(ctx context.Context, rec *model.InstanceRecord, lost model.NodeId) {
	_, _, hosted := rec.HostedOn(lost)
	if !hosted {
		return
	}
	wasActive := rec.RemoveReplicaOn(lost)
	if wasActive {
		if promoted, ok := rec.PromoteStandby(); ok {
			o.propagatePromotion(ctx, rec, promoted)
		}
	}

	if rec.LiveReplicaCount() >= rec.Replication {
		rec.Degraded = false
		o.store.PutInstance(ctx, rec)
		o.mirrorInstance(rec)
		return
	}

	rec.Degraded = true
	o.spawnReplacementStandby(ctx, rec)
	o.store.PutInstance(ctx, rec)
	o.mirrorInstance(rec)
}

// spawnReplacementStandby places one fresh standby (or active, if none
// was live) on a feasible node not already hosting a replica of rec.
func (o *Orchestrator) spawnReplacementStandby(ctx context.Context, rec *model.InstanceRecord) {
	candidates, err := feasibleNodes(rec.Class, rec.Requirements, o.store.ListNodes(ctx))
	if err != nil || len(candidates) == 0 {
		return
	}
	exclude := map[model.NodeId]bool{}
	if !rec.Active.IsNil() {
		exclude[rec.Active.NodeId] = true
	}
	for _, s := range rec.Standby {
		exclude[s.NodeId] = true
	}
	node, ok := selectNode(candidates, exclude)
	if !ok {
		return
	}
	req := model.SpawnRequest{
		Lid:               &rec.Lid,
		ClassSpec:         rec.Class,
		Annotations:       rec.Annotations,
		ReplicationFactor: rec.Replication,
	}
	instanceId, err := o.startOnNode(ctx, node, req, rec.Lid)
	if err != nil {
		o.log.Warn("reconcile: replacement start failed", "lid", rec.Lid, "node", node.NodeId, "error", err)
		return
	}
	if rec.Active.IsNil() {
		rec.Active = instanceId
	} else {
		rec.Standby = append(rec.Standby, instanceId)
	}
	rec.Degraded = rec.LiveReplicaCount() < rec.Replication
	o.propagatePatchToLiveReplicas(ctx, rec)
}

// propagatePromotion re-sends rec's own patch to its surviving replicas,
// then re-patches every other component whose patch targets rec.Lid so
// its outputs resolve to the promoted active replica.
func (o *Orchestrator) propagatePromotion(ctx context.Context, rec *model.InstanceRecord, promoted model.InstanceId) {
	o.propagatePatchToLiveReplicas(ctx, rec)
	for _, up := range o.store.ListInstances(ctx) {
		for _, targetLid := range up.Patch {
			if up.Lid != rec.Lid && targetLid == rec.Lid {
				o.propagatePatchToLiveReplicas(ctx, up)
				break
			}
		}
	}
}

// propagatePatchToLiveReplicas fans the resolved patch out to every live
// replica concurrently via errgroup, since each PatchFunction RPC is
// independent and the slowest agent shouldn't gate the others
// (SPEC_FULL.md "orchestrator reconciliation fan-out to agents").
func (o *Orchestrator) propagatePatchToLiveReplicas(ctx context.Context, rec *model.InstanceRecord) {
	resolved := make(map[string]model.InstanceId, len(rec.Patch))
	for channel, targetLid := range rec.Patch {
		target, ok := o.store.GetInstance(ctx, targetLid)
		if !ok || target.Active.IsNil() {
			continue
		}
		resolved[channel] = target.Active
	}
	replicas := append([]model.InstanceId{}, rec.Standby...)
	if !rec.Active.IsNil() {
		replicas = append(replicas, rec.Active)
	}

	var g errgroup.Group
	for _, inst := range replicas {
		inst := inst
		g.Go(func() error {
			node, ok := o.store.GetNode(ctx, inst.NodeId)
			if !ok {
				return nil
			}
			client, err := o.client(ctx, node)
			if err != nil {
				return nil
			}
			if err := client.PatchFunction(ctx, inst, resolved); err != nil {
				o.log.Warn("reconcile: patch propagation failed", "lid", rec.Lid, "instance", inst, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// ReconcileAll re-attempts placement for every Degraded instance. It is
// the entry point for the periodic sweep (cmd/orchestrator/main.go's
// cron job), catching Degraded instances left behind by a reconcile that
// found no feasible node at the time of the node loss.
func (o *Orchestrator) ReconcileAll(ctx context.Context) {
	o.reconcileDegraded(ctx)
}

// reconcileDegraded re-attempts placement for every instance currently
// short of its replication factor, called after a node joins.
func (o *Orchestrator) reconcileDegraded(ctx context.Context) {
	for _, rec := range o.store.ListInstances(ctx) {
		if !rec.Degraded {
			continue
		}
		mu := o.lockFor(rec.Lid)
		mu.Lock()
		o.spawnReplacementStandby(ctx, rec)
		o.store.PutInstance(ctx, rec)
		o.mirrorInstance(rec)
		mu.Unlock()
	}
}

// fanOutPeerDel notifies every remaining node's agent that id left the
// fleet, so their data-plane remote routers drop the stale peer link
// (spec.md §4.1 "UpdatePeers::Del"). Notifications run concurrently via
// errgroup: a slow or unreachable agent shouldn't delay the others from
// dropping the stale peer.
func (o *Orchestrator) fanOutPeerDel(ctx context.Context, id model.NodeId) {
	var g errgroup.Group
	for _, node := range o.store.ListNodes(ctx) {
		node := node
		g.Go(func() error {
			client, err := o.client(ctx, node)
			if err != nil {
				o.log.Warn("fan-out UpdatePeers::Del: dial failed", "node", node.NodeId, "error", err)
				return nil
			}
			if err := client.UpdatePeers(ctx, transport.PeerUpdate{Add: false, NodeId: id}); err != nil {
				o.log.Warn("fan-out UpdatePeers::Del failed", "node", node.NodeId, "peer", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}
