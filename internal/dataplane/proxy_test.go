package dataplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/model"
)

// TestProxyForwardsCastAcrossNamespaces exercises the spec.md §4.6 proxy
// instance: a cast arriving on the inner handle is forwarded to the
// external handle's target, resolved through the inner_outputs alias
// table keyed by the original sender's ComponentId.
func TestProxyForwardsCastAcrossNamespaces(t *testing.T) {
	dp, selfId := newTestDataPlane(t)

	innerId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	externalId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	senderId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	finalTargetId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}

	inner := NewHandle(dp, innerId, time.Second, 4)
	external := NewHandle(dp, externalId, time.Second, 4)
	finalTarget := NewHandle(dp, finalTargetId, time.Second, 4)
	defer finalTarget.Close()

	proxy := NewProxy(newTestLogger(), inner, external)
	defer proxy.Close()

	proxy.Patch(map[string]model.InstanceId{senderId.ComponentId.String(): finalTargetId}, nil)

	sender := NewHandle(dp, senderId, time.Second, 4)
	defer sender.Close()
	sender.Send(context.Background(), innerId, []byte("payload"), model.EventMetadata{})

	ev, ok := finalTarget.ReceiveNext(context.Background())
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), ev.Payload)
}

func TestProxyUnknownRouteIsDropped(t *testing.T) {
	dp, selfId := newTestDataPlane(t)

	innerId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}
	externalId := model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}

	inner := NewHandle(dp, innerId, time.Second, 4)
	external := NewHandle(dp, externalId, time.Second, 4)

	proxy := NewProxy(newTestLogger(), inner, external)
	defer proxy.Close()

	sender := NewHandle(dp, model.InstanceId{NodeId: selfId, ComponentId: model.NewComponentId()}, time.Second, 4)
	defer sender.Close()
	sender.Send(context.Background(), innerId, []byte("payload"), model.EventMetadata{})

	// No patch applied: the proxy has no route for this sender and drops
	// the event rather than forwarding it anywhere.
	time.Sleep(20 * time.Millisecond)
}
