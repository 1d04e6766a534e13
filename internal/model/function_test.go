package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveReplicationFactorDefaultsToOne(t *testing.T) {
	req := SpawnRequest{}
	assert.Equal(t, 1, req.EffectiveReplicationFactor())

	req.ReplicationFactor = 1
	assert.Equal(t, 1, req.EffectiveReplicationFactor())

	req.ReplicationFactor = 3
	assert.Equal(t, 3, req.EffectiveReplicationFactor())
}

func TestInitPayload(t *testing.T) {
	req := SpawnRequest{Annotations: map[string]string{"init-payload": "hello"}}
	v, ok := req.InitPayload()
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	empty := SpawnRequest{}
	_, ok = empty.InitPayload()
	assert.False(t, ok)
}
