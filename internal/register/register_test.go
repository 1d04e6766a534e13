package register

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

type fakeAgentClient struct {
	updates []transport.PeerUpdate
	closed  bool
}

func (c *fakeAgentClient) StartFunction(ctx context.Context, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error) {
	return model.InstanceId{}, nil
}
func (c *fakeAgentClient) StopFunction(ctx context.Context, id model.InstanceId) error { return nil }
func (c *fakeAgentClient) PatchFunction(ctx context.Context, id model.InstanceId, patch map[string]model.InstanceId) error {
	return nil
}
func (c *fakeAgentClient) UpdatePeers(ctx context.Context, update transport.PeerUpdate) error {
	c.updates = append(c.updates, update)
	return nil
}
func (c *fakeAgentClient) Reset(ctx context.Context) error { return nil }
func (c *fakeAgentClient) Close() error {
	c.closed = true
	return nil
}

type fakeAgentDialer struct {
	clients map[string]*fakeAgentClient
}

func newFakeAgentDialer() *fakeAgentDialer {
	return &fakeAgentDialer{clients: make(map[string]*fakeAgentClient)}
}

func (d *fakeAgentDialer) Dial(ctx context.Context, agentUrl string) (transport.AgentClient, error) {
	c, ok := d.clients[agentUrl]
	if !ok {
		c = &fakeAgentClient{}
		d.clients[agentUrl] = c
	}
	return c, nil
}

func testLogger() *logger.Logger { return logger.New("error", "text") }

func TestUpdateNodeFirstNodeFansOutToNoOne(t *testing.T) {
	dialer := newFakeAgentDialer()
	r := New(testLogger(), dialer)

	node := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node1:7001", InvocationUrl: "node1:7002"}
	require.NoError(t, r.UpdateNode(context.Background(), node))
	assert.Equal(t, 1, r.Count())
	assert.Empty(t, dialer.clients)
}

func TestUpdateNodeFansOutBidirectionally(t *testing.T) {
	dialer := newFakeAgentDialer()
	r := New(testLogger(), dialer)

	first := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node1:7001", InvocationUrl: "node1:7002"}
	require.NoError(t, r.UpdateNode(context.Background(), first))

	second := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node2:7001", InvocationUrl: "node2:7002"}
	require.NoError(t, r.UpdateNode(context.Background(), second))

	assert.Equal(t, 2, r.Count())
	// node1 learns about node2, and node2 learns about node1.
	require.Len(t, dialer.clients["node1:7001"].updates, 1)
	assert.Equal(t, second.NodeId, dialer.clients["node1:7001"].updates[0].NodeId)
	require.Len(t, dialer.clients["node2:7001"].updates, 1)
	assert.Equal(t, first.NodeId, dialer.clients["node2:7001"].updates[0].NodeId)
}

func TestUpdateNodeDuplicateIsNoOp(t *testing.T) {
	dialer := newFakeAgentDialer()
	r := New(testLogger(), dialer)

	node := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node1:7001", InvocationUrl: "node1:7002"}
	require.NoError(t, r.UpdateNode(context.Background(), node))
	require.NoError(t, r.UpdateNode(context.Background(), node))

	assert.Equal(t, 1, r.Count())
}

func TestDeregisterNodeFansOutDel(t *testing.T) {
	dialer := newFakeAgentDialer()
	r := New(testLogger(), dialer)

	first := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node1:7001", InvocationUrl: "node1:7002"}
	second := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node2:7001", InvocationUrl: "node2:7002"}
	require.NoError(t, r.UpdateNode(context.Background(), first))
	require.NoError(t, r.UpdateNode(context.Background(), second))

	require.NoError(t, r.DeregisterNode(context.Background(), first.NodeId))

	assert.Equal(t, 1, r.Count())
	updates := dialer.clients["node2:7001"].updates
	last := updates[len(updates)-1]
	assert.False(t, last.Add)
	assert.Equal(t, first.NodeId, last.NodeId)
}

func TestDeregisterUnknownNodeIsNoOp(t *testing.T) {
	dialer := newFakeAgentDialer()
	r := New(testLogger(), dialer)
	assert.NoError(t, r.DeregisterNode(context.Background(), model.NewNodeId()))
}

func TestListNodes(t *testing.T) {
	dialer := newFakeAgentDialer()
	r := New(testLogger(), dialer)
	node := model.NodeDescriptor{NodeId: model.NewNodeId(), AgentUrl: "node1:7001", InvocationUrl: "node1:7002"}
	require.NoError(t, r.UpdateNode(context.Background(), node))

	nodes := r.ListNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, node.NodeId, nodes[0].NodeId)
}
