package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIdJSONRoundTrip(t *testing.T) {
	id := NewNodeId()

	b, err := json.Marshal(id)
	require.NoError(t, err)

	var got NodeId
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, id, got)
}

func TestComponentIdJSONRoundTrip(t *testing.T) {
	id := NewComponentId()

	b, err := json.Marshal(id)
	require.NoError(t, err)

	var got ComponentId
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, id, got)
}

func TestNodeIdIsNil(t *testing.T) {
	assert.True(t, NilNodeId.IsNil())
	assert.False(t, NewNodeId().IsNil())
}

func TestInstanceIdEqual(t *testing.T) {
	n := NewNodeId()
	c := NewComponentId()
	a := InstanceId{NodeId: n, ComponentId: c}
	b := InstanceId{NodeId: n, ComponentId: c}
	other := InstanceId{NodeId: NewNodeId(), ComponentId: c}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(other))
}

func TestInstanceIdIsNil(t *testing.T) {
	assert.True(t, InstanceId{}.IsNil())
	assert.False(t, InstanceId{NodeId: NewNodeId()}.IsNil())
}

func TestStreamIdString(t *testing.T) {
	s := NewStreamId()
	assert.NotEmpty(t, s.String())
}
