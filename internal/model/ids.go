// Package model holds the EDGELESS data model: identifiers, function classes,
// deployment requirements, node descriptors, instance records and the
// data-plane event shape (spec.md §3).
package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NodeId identifies a node in the fleet. 128-bit opaque value.
type NodeId uuid.UUID

// ComponentId identifies a component's physical identity on a node.
// 128-bit opaque value.
type ComponentId uuid.UUID

// LogicalId is the stable fleet-wide component id chosen by the orchestrator.
type LogicalId = ComponentId

// PhysicalId is the ComponentId actually running on a node.
type PhysicalId = ComponentId

// NilNodeId is the zero NodeId, used as a placeholder before a physical
// instance is placed.
var NilNodeId = NodeId(uuid.Nil)

// NewNodeId generates a fresh random NodeId.
func NewNodeId() NodeId {
	return NodeId(uuid.New())
}

// NewComponentId generates a fresh random ComponentId.
func NewComponentId() ComponentId {
	return ComponentId(uuid.New())
}

func (n NodeId) String() string      { return uuid.UUID(n).String() }
func (c ComponentId) String() string { return uuid.UUID(c).String() }

func (n NodeId) IsNil() bool      { return n == NilNodeId }
func (c ComponentId) IsNil() bool { return uuid.UUID(c) == uuid.Nil }

// InstanceId is the address at which an instance is reachable on the data
// plane: the node currently hosting the component, plus the component's
// identity within the fleet.
type InstanceId struct {
	NodeId      NodeId
	ComponentId ComponentId
}

func (id InstanceId) String() string {
	return fmt.Sprintf("%s/%s", id.NodeId, id.ComponentId)
}

func (id InstanceId) IsNil() bool {
	return id.NodeId.IsNil() && id.ComponentId.IsNil()
}

func (a InstanceId) Equal(b InstanceId) bool {
	return a.NodeId == b.NodeId && a.ComponentId == b.ComponentId
}

// StreamId correlates a Call event with its reply.
type StreamId uuid.UUID

func NewStreamId() StreamId { return StreamId(uuid.New()) }
func (s StreamId) String() string { return uuid.UUID(s).String() }

// MarshalJSON/UnmarshalJSON render these ids as their canonical UUID
// string form rather than a raw byte array, so they round-trip through
// JSONB columns and JSON control-plane payloads the same way.

func (n NodeId) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(n).String()) }
func (n *NodeId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*n = NodeId(u)
	return nil
}

func (c ComponentId) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(c).String()) }
func (c *ComponentId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*c = ComponentId(u)
	return nil
}

func (s StreamId) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(s).String()) }
func (s *StreamId) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	u, err := uuid.Parse(str)
	if err != nil {
		return err
	}
	*s = StreamId(u)
	return nil
}
