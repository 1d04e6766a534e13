package dataplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/apierr"
	"edgeless/internal/model"
)

func TestHandleSendDeliversLocally(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	source := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	target := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}

	sourceHandle := NewHandle(dp, source, time.Second, 4)
	targetHandle := NewHandle(dp, target, time.Second, 4)
	defer sourceHandle.Close()
	defer targetHandle.Close()

	sourceHandle.Send(context.Background(), target, []byte("hi"), model.EventMetadata{})

	ev, ok := targetHandle.ReceiveNext(context.Background())
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), ev.Payload)
	assert.Equal(t, model.KindCast, ev.Kind)
}

func TestHandleCallReceivesReply(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	caller := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	callee := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}

	callerHandle := NewHandle(dp, caller, time.Second, 4)
	calleeHandle := NewHandle(dp, callee, time.Second, 4)
	defer callerHandle.Close()
	defer calleeHandle.Close()

	go func() {
		ev, ok := calleeHandle.ReceiveNext(context.Background())
		if !ok {
			return
		}
		calleeHandle.Reply(context.Background(), ev.Source, ev.StreamId, Reply([]byte("pong")))
	}()

	ret, err := callerHandle.Call(context.Background(), callee, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), ret.Payload)
	assert.False(t, ret.IsErr())
}

func TestHandleCallTimesOut(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	caller := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	callee := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}

	callerHandle := NewHandle(dp, caller, 10*time.Millisecond, 4)
	calleeHandle := NewHandle(dp, callee, time.Second, 4)
	defer callerHandle.Close()
	defer calleeHandle.Close()

	_, err := callerHandle.Call(context.Background(), callee, []byte("ping"))
	assert.ErrorIs(t, err, apierr.ErrCallTimeout)
	assert.Equal(t, 0, dp.PendingCount())
}

func TestHandleCallToUnknownTargetIsUnknownAlias(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	caller := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	callerHandle := NewHandle(dp, caller, time.Second, 4)
	defer callerHandle.Close()

	// Target lives on a node with no remote peer registered: RemoteRouter
	// returns OutcomeIgnored, which Call maps to ErrUnknownAlias.
	unknownTarget := model.InstanceId{NodeId: model.NewNodeId(), ComponentId: model.NewComponentId()}
	_, err := callerHandle.Call(context.Background(), unknownTarget, []byte("ping"))
	assert.True(t, errors.Is(err, apierr.ErrUnknownAlias))
}

func TestHandleUpdateMappingAndResolve(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	id := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	h := NewHandle(dp, id, time.Second, 4)
	defer h.Close()

	out := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	h.UpdateMapping(nil, map[string]model.InstanceId{"out1": out})

	got, ok := h.ResolveOutput("out1")
	require.True(t, ok)
	assert.Equal(t, out, got)

	_, ok = h.ResolveOutput("missing")
	assert.False(t, ok)
}

func TestHandleSetOutputsLeavesInputs(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	id := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	h := NewHandle(dp, id, time.Second, 4)
	defer h.Close()

	in := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	h.UpdateMapping(map[string]model.InstanceId{"in1": in}, nil)

	out := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	h.SetOutputs(map[string]model.InstanceId{"out1": out})

	gotIn, ok := h.ResolveInput("in1")
	require.True(t, ok)
	assert.Equal(t, in, gotIn)
}

func TestHandleClone(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	id := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	h := NewHandle(dp, id, time.Second, 4)
	defer h.Close()

	clone := h.Clone()
	assert.Equal(t, h.InstanceId(), clone.InstanceId())
}
