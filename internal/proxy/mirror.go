// Package proxy implements the read-only deployment-state mirror the
// proxy instance's control side keeps (spec.md §4.6; SPEC_FULL.md
// "Proxy metrics mirror"), grounded on
// original_source/edgeless_orc/src/metrics_collector.rs. It is distinct
// from the data-plane boundary-bridging proxy instance
// (internal/dataplane.Proxy): Mirror never touches an event, it only
// keeps a queryable snapshot of placement state for diagnostics.
package proxy

import (
	"sync"

	"edgeless/internal/model"
)

// NodeSnapshot is one node's entry in the mirror.
type NodeSnapshot struct {
	NodeId   model.NodeId `json:"node_id"`
	AgentUrl string       `json:"agent_url"`
}

// InstanceSnapshot is one logical component's current replica placement.
type InstanceSnapshot struct {
	Lid      model.LogicalId    `json:"lid"`
	Active   model.InstanceId   `json:"active"`
	Standby  []model.InstanceId `json:"standby"`
	Degraded bool               `json:"degraded"`
}

// Snapshot is the serializable state a diagnostics endpoint returns.
type Snapshot struct {
	Nodes     []NodeSnapshot     `json:"nodes"`
	Instances []InstanceSnapshot `json:"instances"`
}

// Mirror holds a point-in-time copy of the orchestrator's node and
// instance tables, updated on every placement/reconciliation decision and
// read by a diagnostics endpoint without ever touching the orchestrator's
// own per-logical-id locks.
type Mirror struct {
	mu        sync.RWMutex
	nodes     map[model.NodeId]NodeSnapshot
	instances map[model.LogicalId]InstanceSnapshot
}

func NewMirror() *Mirror {
	return &Mirror{
		nodes:     make(map[model.NodeId]NodeSnapshot),
		instances: make(map[model.LogicalId]InstanceSnapshot),
	}
}

// PutNode records node as live.
func (m *Mirror) PutNode(node model.NodeDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.NodeId] = NodeSnapshot{NodeId: node.NodeId, AgentUrl: node.AgentUrl}
}

// DeleteNode removes a departed node.
func (m *Mirror) DeleteNode(id model.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
}

// PutInstance records rec's current placement.
func (m *Mirror) PutInstance(rec *model.InstanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[rec.Lid] = InstanceSnapshot{
		Lid:      rec.Lid,
		Active:   rec.Active,
		Standby:  append([]model.InstanceId{}, rec.Standby...),
		Degraded: rec.Degraded,
	}
}

// DeleteInstance removes a stopped logical component.
func (m *Mirror) DeleteInstance(lid model.LogicalId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, lid)
}

// Snapshot returns a copy of the mirror's current state.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Snapshot{
		Nodes:     make([]NodeSnapshot, 0, len(m.nodes)),
		Instances: make([]InstanceSnapshot, 0, len(m.instances)),
	}
	for _, n := range m.nodes {
		out.Nodes = append(out.Nodes, n)
	}
	for _, i := range m.instances {
		i.Standby = append([]model.InstanceId{}, i.Standby...)
		out.Instances = append(out.Instances, i)
	}
	return out
}
