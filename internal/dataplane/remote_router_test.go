package dataplane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

type fakeInvocationClient struct {
	closed  bool
	handled []model.Event
	outcome model.Outcome
	err     error
}

func (c *fakeInvocationClient) Handle(ctx context.Context, ev model.Event) (model.Outcome, error) {
	c.handled = append(c.handled, ev)
	return c.outcome, c.err
}

func (c *fakeInvocationClient) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	clients map[string]*fakeInvocationClient
}

func (d *fakeDialer) Dial(ctx context.Context, invocationUrl string) (transport.InvocationClient, error) {
	c, ok := d.clients[invocationUrl]
	if !ok {
		c = &fakeInvocationClient{outcome: model.OutcomeFinal}
		d.clients[invocationUrl] = c
	}
	return c, nil
}

func newTestLogger() *logger.Logger { return logger.New("error", "text") }

func TestRemoteRouterAddAndSend(t *testing.T) {
	dialer := &fakeDialer{clients: make(map[string]*fakeInvocationClient)}
	r := NewRemoteRouter(dialer, newTestLogger())

	nodeId := model.NewNodeId()
	require.NoError(t, r.AddPeer(context.Background(), nodeId, "peer:7000"))
	assert.True(t, r.HasPeer(nodeId))
	assert.Equal(t, 1, r.PeerCount())

	ev := model.Event{Target: model.InstanceId{NodeId: nodeId}}
	outcome, err := r.Send(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFinal, outcome)

	client := dialer.clients["peer:7000"]
	require.Len(t, client.handled, 1)
}

func TestRemoteRouterSendToUnknownPeerIsIgnored(t *testing.T) {
	dialer := &fakeDialer{clients: make(map[string]*fakeInvocationClient)}
	r := NewRemoteRouter(dialer, newTestLogger())

	ev := model.Event{Target: model.InstanceId{NodeId: model.NewNodeId()}}
	outcome, err := r.Send(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, outcome)
}

func TestRemoteRouterDelPeerClosesClient(t *testing.T) {
	dialer := &fakeDialer{clients: make(map[string]*fakeInvocationClient)}
	r := NewRemoteRouter(dialer, newTestLogger())

	nodeId := model.NewNodeId()
	require.NoError(t, r.AddPeer(context.Background(), nodeId, "peer:7000"))
	r.DelPeer(nodeId)

	assert.False(t, r.HasPeer(nodeId))
	assert.True(t, dialer.clients["peer:7000"].closed)
}
