package grpc

import (
	"context"
	"io"

	"google.golang.org/grpc"

	"edgeless/internal/dataplane"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

// InboundHandler is whatever consumes events arriving over the
// invocation stream; *dataplane.DataPlane satisfies it via
// InboundFromPeer.
type InboundHandler interface {
	InboundFromPeer(ev model.Event) model.Outcome
}

// invocationServer implements the Invocation service's single
// bidirectional-streaming method: peers push EventMessage, the server
// pushes back OutcomeMessage per event, preserving send order per
// stream (spec.md §4.3 "Remote router").
type invocationServer struct {
	log     *logger.Logger
	handler InboundHandler
}

func (s *invocationServer) handle(stream grpc.ServerStream) error {
	for {
		var msg EventMessage
		if err := stream.RecvMsg(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		ev := model.Event{
			Target:   msg.Target,
			Source:   msg.Source,
			StreamId: msg.StreamId,
			Kind:     msg.Kind,
			Payload:  msg.Payload,
			Metadata: msg.Metadata,
		}
		outcome := s.handler.InboundFromPeer(ev)
		if err := stream.SendMsg(&OutcomeMessage{Outcome: outcome}); err != nil {
			return err
		}
	}
}

var invocationServiceDesc = grpc.ServiceDesc{
	ServiceName: "edgeless.Invocation",
	HandlerType: (*interface{})(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Handle",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(*invocationServer).handle(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// agentServer implements the Agent service's unary methods, dispatching
// into a transport.AgentClient-shaped local implementation (the node
// agent itself, spec.md §4.4).
type agentServer struct {
	log   *logger.Logger
	agent LocalAgent
}

// LocalAgent is the node-local handler the grpc server dispatches into;
// internal/agent.Agent implements it structurally.
type LocalAgent interface {
	StartFunction(ctx context.Context, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error)
	StopFunction(ctx context.Context, id model.InstanceId) error
	PatchFunction(ctx context.Context, id model.InstanceId, patch map[string]model.InstanceId) error
	UpdatePeers(ctx context.Context, update transport.PeerUpdate) error
	Reset(ctx context.Context) error
}

func (s *agentServer) StartFunction(ctx context.Context, req *StartFunctionRequest) (*StartFunctionResponse, error) {
	id, err := s.agent.StartFunction(ctx, req.Spawn, req.Lid)
	if err != nil {
		return &StartFunctionResponse{Error: err.Error()}, nil
	}
	return &StartFunctionResponse{InstanceId: id}, nil
}

func (s *agentServer) StopFunction(ctx context.Context, req *StopFunctionRequest) (*Ack, error) {
	if err := s.agent.StopFunction(ctx, req.InstanceId); err != nil {
		return &Ack{Error: err.Error()}, nil
	}
	return &Ack{}, nil
}

func (s *agentServer) PatchFunction(ctx context.Context, req *PatchFunctionRequest) (*Ack, error) {
	if err := s.agent.PatchFunction(ctx, req.InstanceId, req.Patch); err != nil {
		return &Ack{Error: err.Error()}, nil
	}
	return &Ack{}, nil
}

func (s *agentServer) UpdatePeers(ctx context.Context, req *UpdatePeersRequest) (*Ack, error) {
	err := s.agent.UpdatePeers(ctx, transport.PeerUpdate{Add: req.Add, NodeId: req.NodeId, InvocationUrl: req.InvocationUrl})
	if err != nil {
		return &Ack{Error: err.Error()}, nil
	}
	return &Ack{}, nil
}

func (s *agentServer) Reset(ctx context.Context, req *Ack) (*Ack, error) {
	if err := s.agent.Reset(ctx); err != nil {
		return &Ack{Error: err.Error()}, nil
	}
	return &Ack{}, nil
}

// RegisterInvocationServer wires the invocation stream handler into gs.
func RegisterInvocationServer(gs *grpc.Server, log *logger.Logger, handler InboundHandler) {
	gs.RegisterService(&invocationServiceDesc, &invocationServer{log: log, handler: handler})
}

// RegisterAgentServer wires the unary agent RPC handlers into gs.
func RegisterAgentServer(gs *grpc.Server, log *logger.Logger, agent LocalAgent) {
	desc := grpc.ServiceDesc{
		ServiceName: "edgeless.Agent",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "StartFunction", Handler: startFunctionHandler},
			{MethodName: "StopFunction", Handler: stopFunctionHandler},
			{MethodName: "PatchFunction", Handler: patchFunctionHandler},
			{MethodName: "UpdatePeers", Handler: updatePeersHandler},
			{MethodName: "Reset", Handler: resetHandler},
		},
	}
	gs.RegisterService(&desc, &agentServer{log: log, agent: agent})
}

func startFunctionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartFunctionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*agentServer).StartFunction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/edgeless.Agent/StartFunction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*agentServer).StartFunction(ctx, req.(*StartFunctionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func stopFunctionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StopFunctionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*agentServer).StopFunction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/edgeless.Agent/StopFunction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*agentServer).StopFunction(ctx, req.(*StopFunctionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func patchFunctionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PatchFunctionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*agentServer).PatchFunction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/edgeless.Agent/PatchFunction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*agentServer).PatchFunction(ctx, req.(*PatchFunctionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func updatePeersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UpdatePeersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*agentServer).UpdatePeers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/edgeless.Agent/UpdatePeers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*agentServer).UpdatePeers(ctx, req.(*UpdatePeersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Ack)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*agentServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/edgeless.Agent/Reset"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*agentServer).Reset(ctx, req.(*Ack))
	}
	return interceptor(ctx, in, info, handler)
}
