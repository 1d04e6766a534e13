package grpc

import (
	"edgeless/internal/model"
)

// Wire message shapes carried over the edgeless-json grpc codec. Field
// tags double as the JSON wire names; there is deliberately no protobuf
// annotation since these never pass through protoc.

type EventMessage struct {
	Target   model.InstanceId    `json:"target"`
	Source   model.InstanceId    `json:"source"`
	StreamId model.StreamId      `json:"stream_id"`
	Kind     model.EventKind     `json:"kind"`
	Payload  []byte              `json:"payload"`
	Metadata model.EventMetadata `json:"metadata"`
}

type OutcomeMessage struct {
	Outcome model.Outcome `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}

type StartFunctionRequest struct {
	Spawn model.SpawnRequest `json:"spawn"`
	Lid   model.LogicalId    `json:"lid"`
}

type StartFunctionResponse struct {
	InstanceId model.InstanceId `json:"instance_id"`
	Error      string           `json:"error,omitempty"`
}

type StopFunctionRequest struct {
	InstanceId model.InstanceId `json:"instance_id"`
}

type PatchFunctionRequest struct {
	InstanceId model.InstanceId            `json:"instance_id"`
	Patch      map[string]model.InstanceId `json:"patch"`
}

type UpdatePeersRequest struct {
	Add           bool          `json:"add"`
	NodeId        model.NodeId  `json:"node_id"`
	InvocationUrl string        `json:"invocation_url,omitempty"`
}

type Ack struct {
	Error string `json:"error,omitempty"`
}
