package grpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"edgeless/internal/model"
)

func TestJSONCodecRegisteredUnderName(t *testing.T) {
	codec := encoding.GetCodec(codecName)
	require.NotNil(t, codec)
	assert.Equal(t, codecName, codec.Name())
}

func TestJSONCodecRoundTripsEventMessage(t *testing.T) {
	codec := jsonCodec{}
	msg := EventMessage{
		Target:   model.InstanceId{NodeId: model.NewNodeId(), ComponentId: model.NewComponentId()},
		Source:   model.InstanceId{NodeId: model.NewNodeId(), ComponentId: model.NewComponentId()},
		StreamId: model.NewStreamId(),
		Kind:     model.KindCast,
		Payload:  []byte("hello"),
	}

	data, err := codec.Marshal(msg)
	require.NoError(t, err)

	var got EventMessage
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, msg.Target, got.Target)
	assert.Equal(t, msg.StreamId, got.StreamId)
	assert.Equal(t, msg.Payload, got.Payload)
}

func TestJSONCodecUnmarshalErrorWrapsCause(t *testing.T) {
	codec := jsonCodec{}
	var got EventMessage
	err := codec.Unmarshal([]byte("not json"), &got)
	assert.Error(t, err)
}
