package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/dataplane"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/telemetry"
)

type fakeSandbox struct {
	mu         sync.Mutex
	initErr    error
	casts      [][]byte
	callErr    error
	stopCalled bool
}

func (s *fakeSandbox) Init(ctx context.Context, payload, serializedState []byte) error {
	return s.initErr
}

func (s *fakeSandbox) HandleCast(ctx context.Context, src model.InstanceId, portId string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casts = append(s.casts, payload)
	return nil
}

func (s *fakeSandbox) HandleCall(ctx context.Context, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error) {
	if s.callErr != nil {
		return dataplane.CallRet{}, s.callErr
	}
	return dataplane.Reply(payload), nil
}

func (s *fakeSandbox) HandleStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalled = true
	return nil
}

func newTestLogger() *logger.Logger { return logger.New("error", "text") }

func newTestDataPlane(t *testing.T, selfId model.NodeId) *dataplane.DataPlane {
	t.Helper()
	return dataplane.New(selfId, dataplane.NewLocalRouter(), dataplane.NewRemoteRouter(nil, newTestLogger()), newTestLogger())
}

func TestInstanceReachesReadyThenStops(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	sandbox := &fakeSandbox{}
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		return sandbox, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())

	exited := make(chan ExitStatus, 1)
	hook := func(id model.InstanceId, status ExitStatus, cause error) { exited <- status }

	inst := NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, hook)

	require.Eventually(t, func() bool { return inst.State() == StateReady }, time.Second, time.Millisecond)

	inst.Stop()
	assert.Equal(t, StateStopped, inst.State())
	assert.True(t, sandbox.stopCalled)
	assert.Equal(t, ExitOk, <-exited)
}

func TestInstanceBadInitExitsBadCode(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	sandbox := &fakeSandbox{initErr: errors.New("bad init")}
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		return sandbox, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())

	exited := make(chan ExitStatus, 1)
	hook := func(id model.InstanceId, status ExitStatus, cause error) { exited <- status }

	NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, hook)

	assert.Equal(t, ExitBadCode, <-exited)
}

func TestInstanceFactoryErrorExitsBadCode(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		return nil, errors.New("cannot instantiate")
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())

	exited := make(chan ExitStatus, 1)
	hook := func(id model.InstanceId, status ExitStatus, cause error) { exited <- status }

	NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, hook)

	assert.Equal(t, ExitBadCode, <-exited)
}

func TestInstanceDeliversCastToSandbox(t *testing.T) {
	selfId := model.NewNodeId()
	dp := newTestDataPlane(t, selfId)
	instId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	handle := dataplane.NewHandle(dp, instId, time.Second, 4)

	sandbox := &fakeSandbox{}
	factory := func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error) {
		return sandbox, nil
	}

	register := NewHostRegister(false)
	telem := telemetry.NewHandle(newTestLogger())
	inst := NewInstance(instId, model.FunctionClass{ClassId: "test"}, handle, telem, newTestLogger(), register, factory, nil, nil, nil)

	require.Eventually(t, func() bool { return inst.State() == StateReady }, time.Second, time.Millisecond)

	senderId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	senderHandle := dataplane.NewHandle(dp, senderId, time.Second, 4)
	defer senderHandle.Close()
	senderHandle.Send(context.Background(), instId, []byte("hello"), model.EventMetadata{})

	require.Eventually(t, func() bool {
		sandbox.mu.Lock()
		defer sandbox.mu.Unlock()
		return len(sandbox.casts) == 1
	}, time.Second, time.Millisecond)

	inst.Stop()
}
