// Package transport defines the transport-agnostic capability interfaces
// that the control plane and data plane dispatch through (spec.md §9
// "Dynamic dispatch of transports"), implemented concretely by the grpc,
// coap and http subpackages.
package transport

import (
	"context"

	"edgeless/internal/model"
)

// InvocationClient is a peer link on the data plane's remote router: it
// carries events to a single remote node's invocation endpoint.
type InvocationClient interface {
	// Handle delivers ev to the peer, returning FINAL on success, IGNORED
	// if the remote did not recognize the target, or an error on transport
	// failure (spec.md §4.3 "Remote router").
	Handle(ctx context.Context, ev model.Event) (model.Outcome, error)
	Close() error
}

// InvocationClientDialer creates an InvocationClient for a peer's
// invocation URL.
type InvocationClientDialer interface {
	Dial(ctx context.Context, invocationUrl string) (InvocationClient, error)
}

// AgentClient is the orchestrator-facing RPC surface of a node agent
// (spec.md §4.4): StartFunction, StopFunction, PatchFunction,
// UpdatePeers, Reset.
type AgentClient interface {
	StartFunction(ctx context.Context, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error)
	StopFunction(ctx context.Context, id model.InstanceId) error
	PatchFunction(ctx context.Context, id model.InstanceId, patch map[string]model.InstanceId) error
	UpdatePeers(ctx context.Context, update PeerUpdate) error
	Reset(ctx context.Context) error
	Close() error
}

// AgentClientDialer creates an AgentClient for a node's agent URL.
type AgentClientDialer interface {
	Dial(ctx context.Context, agentUrl string) (AgentClient, error)
}

// PeerUpdate is the UpdatePeers message shape (spec.md §4.1, §6): either a
// node addition (with its invocation URL) or removal.
type PeerUpdate struct {
	Add           bool
	NodeId        model.NodeId
	InvocationUrl string
}
