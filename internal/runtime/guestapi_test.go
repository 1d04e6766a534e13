package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
	"edgeless/internal/telemetry"
)

func TestGuestAPICastToUnmappedAliasIsDropped(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	var capturedHost GuestAPIHost
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		capturedHost = host
		return &fakeSandbox{}, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())
	inst := NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, nil)
	defer inst.Stop()

	require.Eventually(t, func() bool { return capturedHost != nil }, time.Second, time.Millisecond)

	// "unknown" has never been assigned via Patch, so Cast logs and drops.
	assert.NoError(t, capturedHost.Cast(context.Background(), "unknown", []byte("x")))
}

func TestGuestAPICallToUnmappedAliasReturnsErr(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	var capturedHost GuestAPIHost
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		capturedHost = host
		return &fakeSandbox{}, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())
	inst := NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, nil)
	defer inst.Stop()

	require.Eventually(t, func() bool { return capturedHost != nil }, time.Second, time.Millisecond)

	ret, err := capturedHost.Call(context.Background(), "unknown", []byte("x"))
	require.NoError(t, err)
	assert.True(t, ret.IsErr())
}

func TestGuestAPICastResolvesPatchedAlias(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	targetId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	targetHandle := dataplane.NewHandle(dp, targetId, time.Second, 4)
	defer targetHandle.Close()

	var capturedHost GuestAPIHost
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		capturedHost = host
		return &fakeSandbox{}, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())
	inst := NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, nil)
	defer inst.Stop()

	require.Eventually(t, func() bool { return capturedHost != nil }, time.Second, time.Millisecond)

	inst.Patch(map[string]model.InstanceId{"out": targetId})
	require.NoError(t, capturedHost.Cast(context.Background(), "out", []byte("payload")))

	ev, ok := targetHandle.ReceiveNext(context.Background())
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), ev.Payload)
}

func TestGuestAPISlfReturnsInstanceId(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	var capturedHost GuestAPIHost
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		capturedHost = host
		return &fakeSandbox{}, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())
	inst := NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, nil)
	defer inst.Stop()

	require.Eventually(t, func() bool { return capturedHost != nil }, time.Second, time.Millisecond)
	assert.Equal(t, instId, capturedHost.Slf())
}
