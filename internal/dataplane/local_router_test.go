package dataplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/model"
)

func TestLocalRouterDeliverToRegistered(t *testing.T) {
	r := NewLocalRouter()
	id := model.NewComponentId()
	inbox := r.Register(id, 1)

	ev := model.Event{Target: model.InstanceId{ComponentId: id}}
	outcome := r.Deliver(ev)
	assert.Equal(t, model.OutcomeFinal, outcome)

	got := <-inbox
	assert.Equal(t, ev, got)
}

func TestLocalRouterDeliverUnregisteredIsIgnored(t *testing.T) {
	r := NewLocalRouter()
	ev := model.Event{Target: model.InstanceId{ComponentId: model.NewComponentId()}}
	assert.Equal(t, model.OutcomeIgnored, r.Deliver(ev))
}

func TestLocalRouterDeliverFullInboxErrors(t *testing.T) {
	r := NewLocalRouter()
	id := model.NewComponentId()
	r.Register(id, 1)

	ev := model.Event{Target: model.InstanceId{ComponentId: id}}
	require.Equal(t, model.OutcomeFinal, r.Deliver(ev))
	assert.Equal(t, model.OutcomeError, r.Deliver(ev))
}

func TestLocalRouterDeregisterClosesInbox(t *testing.T) {
	r := NewLocalRouter()
	id := model.NewComponentId()
	inbox := r.Register(id, 1)
	r.Deregister(id)

	assert.False(t, r.Has(id))
	_, ok := <-inbox
	assert.False(t, ok)
}
