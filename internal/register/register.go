// Package register implements the node register (spec.md §4.2): the
// fleet-membership directory that fans out UpdatePeers notifications so
// every node's data-plane remote router stays in sync, grounded on
// original_source/edgeless_orc/src/node_register.rs.
package register

import (
	"context"
	"sync"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

// Register tracks the set of live nodes and fans out membership changes.
// A duplicate UpdateNode (same agentUrl and invocationUrl) is a no-op: no
// broadcasts are sent (node_register.rs "update_node" early-return on
// unchanged descriptor).
type Register struct {
	log    *logger.Logger
	dialer transport.AgentClientDialer

	mu    sync.RWMutex
	nodes map[model.NodeId]model.NodeDescriptor

	clientsMu sync.Mutex
	clients   map[model.NodeId]transport.AgentClient
}

func New(log *logger.Logger, dialer transport.AgentClientDialer) *Register {
	return &Register{
		log:     log,
		dialer:  dialer,
		nodes:   make(map[model.NodeId]model.NodeDescriptor),
		clients: make(map[model.NodeId]transport.AgentClient),
	}
}

func (r *Register) client(ctx context.Context, node model.NodeDescriptor) (transport.AgentClient, error) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	if c, ok := r.clients[node.NodeId]; ok {
		return c, nil
	}
	c, err := r.dialer.Dial(ctx, node.AgentUrl)
	if err != nil {
		return nil, err
	}
	r.clients[node.NodeId] = c
	return c, nil
}

func (r *Register) dropClient(id model.NodeId) {
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.Close()
		delete(r.clients, id)
	}
}

// unchanged reports whether node is already registered with identical
// agent/invocation URLs, matching node_register.rs's duplicate-add
// detection.
func (r *Register) unchanged(node model.NodeDescriptor) bool {
	existing, ok := r.nodes[node.NodeId]
	return ok && existing.AgentUrl == node.AgentUrl && existing.InvocationUrl == node.InvocationUrl
}

// UpdateNode registers or refreshes a node. A fresh registration fans out
// UpdatePeers::Add for the new node to every existing peer, and
// UpdatePeers::Add for every existing peer to the new node, so every
// node's remote router has a complete peer set (spec.md §4.2). Partial
// fan-out failures are logged and do not roll back the registration.
func (r *Register) UpdateNode(ctx context.Context, node model.NodeDescriptor) error {
	r.mu.Lock()
	if r.unchanged(node) {
		r.mu.Unlock()
		return nil
	}
	existingPeers := make([]model.NodeDescriptor, 0, len(r.nodes))
	for _, n := range r.nodes {
		existingPeers = append(existingPeers, n)
	}
	r.nodes[node.NodeId] = node
	r.mu.Unlock()

	var firstErr error
	for _, peer := range existingPeers {
		if err := r.notifyPeer(ctx, peer, transport.PeerUpdate{Add: true, NodeId: node.NodeId, InvocationUrl: node.InvocationUrl}); err != nil {
			r.log.Warn("register: fan-out add to existing peer failed", "peer", peer.NodeId, "new_node", node.NodeId, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := r.notifyPeer(ctx, node, transport.PeerUpdate{Add: true, NodeId: peer.NodeId, InvocationUrl: peer.InvocationUrl}); err != nil {
			r.log.Warn("register: fan-out existing peer to new node failed", "peer", peer.NodeId, "new_node", node.NodeId, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

// DeregisterNode removes a node and fans out UpdatePeers::Del to every
// remaining peer.
func (r *Register) DeregisterNode(ctx context.Context, id model.NodeId) error {
	r.mu.Lock()
	if _, ok := r.nodes[id]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.nodes, id)
	remaining := make([]model.NodeDescriptor, 0, len(r.nodes))
	for _, n := range r.nodes {
		remaining = append(remaining, n)
	}
	r.mu.Unlock()
	r.dropClient(id)

	var firstErr error
	for _, peer := range remaining {
		if err := r.notifyPeer(ctx, peer, transport.PeerUpdate{Add: false, NodeId: id}); err != nil {
			r.log.Warn("register: fan-out del failed", "peer", peer.NodeId, "removed_node", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Register) notifyPeer(ctx context.Context, peer model.NodeDescriptor, update transport.PeerUpdate) error {
	client, err := r.client(ctx, peer)
	if err != nil {
		return err
	}
	return client.UpdatePeers(ctx, update)
}

// ListNodes returns a snapshot of the currently-registered fleet.
func (r *Register) ListNodes() []model.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.NodeDescriptor, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Count returns the number of registered nodes.
func (r *Register) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
