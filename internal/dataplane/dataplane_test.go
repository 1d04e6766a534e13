package dataplane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/model"
)

func newTestDataPlane(t *testing.T) (*DataPlane, model.NodeId) {
	t.Helper()
	selfId := model.NewNodeId()
	dialer := &fakeDialer{clients: make(map[string]*fakeInvocationClient)}
	dp := New(selfId, NewLocalRouter(), NewRemoteRouter(dialer, newTestLogger()), newTestLogger())
	return dp, selfId
}

func TestDataPlaneLocalCastDelivers(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	target := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	inbox := dp.Local.Register(target.ComponentId, 1)

	ev := model.Event{Target: target, Kind: model.KindCast}
	outcome, err := dp.route(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFinal, outcome)
	assert.Equal(t, ev, <-inbox)
}

func TestDataPlaneCallRetCompletesPending(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	streamId := model.NewStreamId()
	resultCh := dp.registerPending(streamId)
	require.Equal(t, 1, dp.PendingCount())

	ret := model.Event{
		Target:   model.InstanceId{NodeId: selfId},
		Kind:     model.KindCallRet,
		StreamId: streamId,
		Payload:  []byte("reply"),
	}
	outcome := dp.InboundFromPeer(ret)
	assert.Equal(t, model.OutcomeFinal, outcome)
	assert.Equal(t, 0, dp.PendingCount())

	got := <-resultCh
	assert.Equal(t, []byte("reply"), got.Payload)
}

func TestDataPlaneLateReplyIsDiscarded(t *testing.T) {
	dp, selfId := newTestDataPlane(t)
	streamId := model.NewStreamId()

	ret := model.Event{
		Target:   model.InstanceId{NodeId: selfId},
		Kind:     model.KindCallRet,
		StreamId: streamId,
	}
	// No pending registration: falls through to local delivery, which
	// finds nothing registered either.
	outcome := dp.InboundFromPeer(ret)
	assert.Equal(t, model.OutcomeIgnored, outcome)
}

func TestDataPlaneCancelPendingDropsEntry(t *testing.T) {
	dp, _ := newTestDataPlane(t)
	streamId := model.NewStreamId()
	dp.registerPending(streamId)
	dp.cancelPending(streamId)
	assert.Equal(t, 0, dp.PendingCount())
}
