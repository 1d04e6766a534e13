package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newInstanceId() InstanceId {
	return InstanceId{NodeId: NewNodeId(), ComponentId: NewComponentId()}
}

func TestLiveReplicaCount(t *testing.T) {
	r := &InstanceRecord{}
	assert.Equal(t, 0, r.LiveReplicaCount())

	r.Active = newInstanceId()
	assert.Equal(t, 1, r.LiveReplicaCount())

	r.Standby = []InstanceId{newInstanceId(), newInstanceId()}
	assert.Equal(t, 3, r.LiveReplicaCount())
}

func TestHostedOnActive(t *testing.T) {
	active := newInstanceId()
	r := &InstanceRecord{Active: active}

	got, wasActive, found := r.HostedOn(active.NodeId)
	assert.True(t, found)
	assert.True(t, wasActive)
	assert.Equal(t, active, got)
}

func TestHostedOnStandby(t *testing.T) {
	standby := newInstanceId()
	r := &InstanceRecord{Standby: []InstanceId{standby}}

	got, wasActive, found := r.HostedOn(standby.NodeId)
	assert.True(t, found)
	assert.False(t, wasActive)
	assert.Equal(t, standby, got)
}

func TestHostedOnNotFound(t *testing.T) {
	r := &InstanceRecord{Active: newInstanceId()}
	_, _, found := r.HostedOn(NewNodeId())
	assert.False(t, found)
}

func TestRemoveReplicaOnActive(t *testing.T) {
	active := newInstanceId()
	r := &InstanceRecord{Active: active}

	wasActive := r.RemoveReplicaOn(active.NodeId)
	assert.True(t, wasActive)
	assert.True(t, r.Active.IsNil())
}

func TestRemoveReplicaOnStandby(t *testing.T) {
	keep := newInstanceId()
	remove := newInstanceId()
	r := &InstanceRecord{Standby: []InstanceId{keep, remove}}

	wasActive := r.RemoveReplicaOn(remove.NodeId)
	assert.False(t, wasActive)
	assert.Equal(t, []InstanceId{keep}, r.Standby)
}

func TestPromoteStandbyNoneAvailable(t *testing.T) {
	r := &InstanceRecord{}
	_, ok := r.PromoteStandby()
	assert.False(t, ok)
}

func TestPromoteStandbyPicksDeterministicWinner(t *testing.T) {
	a := newInstanceId()
	b := newInstanceId()
	r := &InstanceRecord{Standby: []InstanceId{a, b}}

	promoted, ok := r.PromoteStandby()
	require := assert.New(t)
	require.True(ok)
	require.Equal(promoted, r.Active)
	require.Len(r.Standby, 1)
	require.NotContains(r.Standby, promoted)

	// Re-running PromoteStandby on an identical Standby slice must pick the
	// same winner, since reconciliation may retry after a failed placement.
	r2 := &InstanceRecord{Standby: []InstanceId{a, b}}
	promoted2, _ := r2.PromoteStandby()
	assert.Equal(t, promoted, promoted2)
}
