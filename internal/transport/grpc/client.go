package grpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

var callOpt = grpc.CallContentSubtype(codecName)

// InvocationDialer dials remote nodes' invocation endpoints, opening one
// long-lived bidi stream per peer (spec.md §4.3 "Remote router").
type InvocationDialer struct {
	log *logger.Logger
}

func NewInvocationDialer(log *logger.Logger) *InvocationDialer {
	return &InvocationDialer{log: log}
}

func (d *InvocationDialer) Dial(ctx context.Context, invocationUrl string) (transport.InvocationClient, error) {
	conn, err := grpc.NewClient(invocationUrl, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(callOpt))
	if err != nil {
		return nil, fmt.Errorf("grpc: dial invocation %s: %w", invocationUrl, err)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(streamCtx, &invocationServiceDesc.Streams[0], "/edgeless.Invocation/Handle")
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("grpc: open invocation stream to %s: %w", invocationUrl, err)
	}
	return &invocationClient{conn: conn, stream: stream, cancel: cancel}, nil
}

type invocationClient struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc

	mu sync.Mutex
}

func (c *invocationClient) Handle(ctx context.Context, ev model.Event) (model.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := EventMessage{Target: ev.Target, Source: ev.Source, StreamId: ev.StreamId, Kind: ev.Kind, Payload: ev.Payload, Metadata: ev.Metadata}
	if err := c.stream.SendMsg(&msg); err != nil {
		return model.OutcomeError, fmt.Errorf("grpc: send event: %w", err)
	}
	var out OutcomeMessage
	if err := c.stream.RecvMsg(&out); err != nil {
		return model.OutcomeError, fmt.Errorf("grpc: recv outcome: %w", err)
	}
	return out.Outcome, nil
}

func (c *invocationClient) Close() error {
	c.cancel()
	return c.conn.Close()
}

// AgentDialer dials remote nodes' agent endpoints for orchestrator
// control-plane RPCs (spec.md §4.4).
type AgentDialer struct {
	log *logger.Logger
}

func NewAgentDialer(log *logger.Logger) *AgentDialer {
	return &AgentDialer{log: log}
}

func (d *AgentDialer) Dial(ctx context.Context, agentUrl string) (transport.AgentClient, error) {
	conn, err := grpc.NewClient(agentUrl, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithDefaultCallOptions(callOpt))
	if err != nil {
		return nil, fmt.Errorf("grpc: dial agent %s: %w", agentUrl, err)
	}
	return &agentClient{conn: conn}, nil
}

type agentClient struct {
	conn *grpc.ClientConn
}

func (c *agentClient) StartFunction(ctx context.Context, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error) {
	out := new(StartFunctionResponse)
	if err := c.conn.Invoke(ctx, "/edgeless.Agent/StartFunction", &StartFunctionRequest{Spawn: req, Lid: lid}, out); err != nil {
		return model.InstanceId{}, fmt.Errorf("grpc: StartFunction: %w", err)
	}
	if out.Error != "" {
		return model.InstanceId{}, fmt.Errorf("agent: %s", out.Error)
	}
	return out.InstanceId, nil
}

func (c *agentClient) StopFunction(ctx context.Context, id model.InstanceId) error {
	out := new(Ack)
	if err := c.conn.Invoke(ctx, "/edgeless.Agent/StopFunction", &StopFunctionRequest{InstanceId: id}, out); err != nil {
		return fmt.Errorf("grpc: StopFunction: %w", err)
	}
	return ackErr(out)
}

func (c *agentClient) PatchFunction(ctx context.Context, id model.InstanceId, patch map[string]model.InstanceId) error {
	out := new(Ack)
	if err := c.conn.Invoke(ctx, "/edgeless.Agent/PatchFunction", &PatchFunctionRequest{InstanceId: id, Patch: patch}, out); err != nil {
		return fmt.Errorf("grpc: PatchFunction: %w", err)
	}
	return ackErr(out)
}

func (c *agentClient) UpdatePeers(ctx context.Context, update transport.PeerUpdate) error {
	out := new(Ack)
	req := &UpdatePeersRequest{Add: update.Add, NodeId: update.NodeId, InvocationUrl: update.InvocationUrl}
	if err := c.conn.Invoke(ctx, "/edgeless.Agent/UpdatePeers", req, out); err != nil {
		return fmt.Errorf("grpc: UpdatePeers: %w", err)
	}
	return ackErr(out)
}

func (c *agentClient) Reset(ctx context.Context) error {
	out := new(Ack)
	if err := c.conn.Invoke(ctx, "/edgeless.Agent/Reset", &Ack{}, out); err != nil {
		return fmt.Errorf("grpc: Reset: %w", err)
	}
	return ackErr(out)
}

func (c *agentClient) Close() error { return c.conn.Close() }

func ackErr(a *Ack) error {
	if a.Error != "" {
		return fmt.Errorf("agent: %s", a.Error)
	}
	return nil
}
