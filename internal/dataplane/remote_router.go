package dataplane

import (
	"context"
	"fmt"
	"sync"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

// RemoteRouter is a mapping NodeId -> InvocationClient for peers
// (spec.md §4.3 "Remote router"), held behind its own mutex so a local
// delivery never blocks on a remote send (spec.md §5 "Shared-resource
// policy").
type RemoteRouter struct {
	mu     sync.RWMutex
	peers  map[model.NodeId]transport.InvocationClient
	dialer transport.InvocationClientDialer
	log    *logger.Logger
}

// NewRemoteRouter creates a remote router that dials peers on demand via
// dialer (spec.md §4.4 "Propagate peer updates into the data plane's
// remote router").
func NewRemoteRouter(dialer transport.InvocationClientDialer, log *logger.Logger) *RemoteRouter {
	return &RemoteRouter{
		peers:  make(map[model.NodeId]transport.InvocationClient),
		dialer: dialer,
		log:    log,
	}
}

// AddPeer dials and registers a peer's invocation endpoint.
func (r *RemoteRouter) AddPeer(ctx context.Context, nodeId model.NodeId, invocationUrl string) error {
	client, err := r.dialer.Dial(ctx, invocationUrl)
	if err != nil {
		return fmt.Errorf("dial peer %s at %s: %w", nodeId, invocationUrl, err)
	}
	r.mu.Lock()
	if old, ok := r.peers[nodeId]; ok {
		old.Close()
	}
	r.peers[nodeId] = client
	r.mu.Unlock()
	return nil
}

// DelPeer tears down and removes a peer link (spec.md §4.1
// "UpdatePeers::Del(N)").
func (r *RemoteRouter) DelPeer(nodeId model.NodeId) {
	r.mu.Lock()
	client, ok := r.peers[nodeId]
	delete(r.peers, nodeId)
	r.mu.Unlock()
	if ok {
		if err := client.Close(); err != nil {
			r.log.Warn("error closing peer link", "node_id", nodeId, "error", err)
		}
	}
}

// Send delivers ev to the peer hosting ev.Target.NodeId.
func (r *RemoteRouter) Send(ctx context.Context, ev model.Event) (model.Outcome, error) {
	r.mu.RLock()
	client, ok := r.peers[ev.Target.NodeId]
	r.mu.RUnlock()
	if !ok {
		return model.OutcomeIgnored, nil
	}
	outcome, err := client.Handle(ctx, ev)
	if err != nil {
		return model.OutcomeError, err
	}
	return outcome, nil
}

// HasPeer reports whether nodeId currently has a live link.
func (r *RemoteRouter) HasPeer(nodeId model.NodeId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[nodeId]
	return ok
}

// PeerCount returns the number of currently-linked peers.
func (r *RemoteRouter) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
