package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/config"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

// mockAgent is an in-memory transport.AgentClient recording every RPC it
// receives, grounded on the teacher's table-driven mock style
// (common/compiler/ir_test.go) and on
// original_source/edgeless_orc/src/tests/test_utils.rs's MockAgentEvent.
type mockAgent struct {
	mu     sync.Mutex
	nodeId model.NodeId

	starts  []model.SpawnRequest
	patches []map[string]model.InstanceId
	stops   []model.InstanceId
	peers   []transport.PeerUpdate
}

func (a *mockAgent) StartFunction(ctx context.Context, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts = append(a.starts, req)
	return model.InstanceId{NodeId: a.nodeId, ComponentId: model.NewComponentId()}, nil
}

func (a *mockAgent) StopFunction(ctx context.Context, id model.InstanceId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops = append(a.stops, id)
	return nil
}

func (a *mockAgent) PatchFunction(ctx context.Context, id model.InstanceId, patch map[string]model.InstanceId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patches = append(a.patches, patch)
	return nil
}

func (a *mockAgent) UpdatePeers(ctx context.Context, update transport.PeerUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers = append(a.peers, update)
	return nil
}

func (a *mockAgent) Reset(ctx context.Context) error { return nil }
func (a *mockAgent) Close() error                    { return nil }

type mockDialer struct {
	mu      sync.Mutex
	byURL   map[string]*mockAgent
}

func newMockDialer() *mockDialer { return &mockDialer{byURL: make(map[string]*mockAgent)} }

func (d *mockDialer) agentFor(nodeId model.NodeId, agentUrl string) *mockAgent {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byURL[agentUrl]
	if !ok {
		a = &mockAgent{nodeId: nodeId}
		d.byURL[agentUrl] = a
	}
	return a
}

func (d *mockDialer) Dial(ctx context.Context, agentUrl string) (transport.AgentClient, error) {
	d.mu.Lock()
	a, ok := d.byURL[agentUrl]
	d.mu.Unlock()
	if !ok {
		return nil, assert.AnError
	}
	return a, nil
}

func testNode(dialer *mockDialer, labels ...string) model.NodeDescriptor {
	id := model.NewNodeId()
	url := "agent://" + id.String()
	dialer.agentFor(id, url)
	return model.NodeDescriptor{
		NodeId:        id,
		AgentUrl:      url,
		InvocationUrl: "invoke://" + id.String(),
		Capabilities: model.NodeCapabilities{
			Runtimes: []string{"WASM", "NATIVE"},
			Labels:   labels,
		},
	}
}

func newTestOrchestrator() (*Orchestrator, *mockDialer) {
	dialer := newMockDialer()
	log := logger.New("error", "json")
	store := NewInMemoryStore()
	o := New(log, config.OrchestratorConfig{DefaultReplicas: 1}, store, dialer)
	return o, dialer
}

func TestStartFunctionPlacesOnFeasibleNode(t *testing.T) {
	o, dialer := newTestOrchestrator()
	ctx := context.Background()
	stable := testNode(dialer, "stable")
	require.NoError(t, o.AddNode(ctx, stable))

	lid, err := o.StartFunction(ctx, model.SpawnRequest{
		ClassSpec:   model.FunctionClass{ClassId: "f1", ClassType: model.ClassTypeWasm},
		Annotations: map[string]string{"label_match_all": "stable"},
	})
	require.NoError(t, err)

	rec, ok := o.store.GetInstance(ctx, lid)
	require.True(t, ok)
	assert.Equal(t, stable.NodeId, rec.Active.NodeId)
	assert.False(t, rec.Degraded)
}

func TestStartFunctionNoFeasibleNodeReturnsResponseError(t *testing.T) {
	o, _ := newTestOrchestrator()
	ctx := context.Background()

	_, err := o.StartFunction(ctx, model.SpawnRequest{
		ClassSpec: model.FunctionClass{ClassId: "f1", ClassType: model.ClassTypeWasm},
	})
	require.Error(t, err)
}

// TestHotRedundancyFailover mirrors
// original_source/edgeless_orc/src/tests/failover_tests.rs
// test_orc_node_hot_redundancy_graceful: a replication-factor-2 instance
// loses the node hosting its active replica, its standby is promoted,
// and a replacement standby is spawned elsewhere.
func TestHotRedundancyFailover(t *testing.T) {
	o, dialer := newTestOrchestrator()
	ctx := context.Background()

	nodeA := testNode(dialer, "unstable")
	nodeB := testNode(dialer, "unstable")
	nodeC := testNode(dialer, "unstable")
	require.NoError(t, o.AddNode(ctx, nodeA))
	require.NoError(t, o.AddNode(ctx, nodeB))
	require.NoError(t, o.AddNode(ctx, nodeC))

	lid, err := o.StartFunction(ctx, model.SpawnRequest{
		ClassSpec:         model.FunctionClass{ClassId: "f2", ClassType: model.ClassTypeWasm},
		Annotations:       map[string]string{"label_match_all": "unstable"},
		ReplicationFactor: 2,
	})
	require.NoError(t, err)

	rec, ok := o.store.GetInstance(ctx, lid)
	require.True(t, ok)
	require.Equal(t, 2, rec.LiveReplicaCount())
	require.False(t, rec.Degraded)

	lostNode := rec.Active.NodeId

	require.NoError(t, o.DelNode(ctx, lostNode))

	rec, ok = o.store.GetInstance(ctx, lid)
	require.True(t, ok)
	assert.NotEqual(t, lostNode, rec.Active.NodeId)
	assert.False(t, rec.Degraded, "a replacement standby should have been spawned on the third node")
	assert.Equal(t, 2, rec.LiveReplicaCount())
}

func TestPatchFunctionResolvesTargetActiveInstance(t *testing.T) {
	o, dialer := newTestOrchestrator()
	ctx := context.Background()
	n := testNode(dialer)
	require.NoError(t, o.AddNode(ctx, n))

	lid1, err := o.StartFunction(ctx, model.SpawnRequest{ClassSpec: model.FunctionClass{ClassId: "f1"}})
	require.NoError(t, err)
	lid2, err := o.StartFunction(ctx, model.SpawnRequest{ClassSpec: model.FunctionClass{ClassId: "f2"}})
	require.NoError(t, err)

	err = o.PatchFunction(ctx, lid1, map[string]model.LogicalId{"out": lid2})
	require.NoError(t, err)

	agent := dialer.agentFor(n.NodeId, n.AgentUrl)
	agent.mu.Lock()
	defer agent.mu.Unlock()
	require.NotEmpty(t, agent.patches)
	last := agent.patches[len(agent.patches)-1]
	target, ok := last["out"]
	require.True(t, ok)
	rec2, _ := o.store.GetInstance(ctx, lid2)
	assert.Equal(t, rec2.Active, target)
}
