package coap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/logger"
	"edgeless/internal/model"
)

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

func encodeWireEvent(t *testing.T, source model.NodeId, token uint64) []byte {
	t.Helper()
	raw, err := json.Marshal(wireEvent{
		Source: model.InstanceId{NodeId: source},
		Kind:   model.KindCast,
		Token:  token,
	})
	require.NoError(t, err)
	return raw
}

// TestServerDecodeDedupsRetransmission covers spec.md §8 I5: a
// retransmitted request (same or lower token from the same peer) must be
// flagged as a duplicate by Decode without advancing past dedup.
func TestServerDecodeDedupsRetransmission(t *testing.T) {
	var calls int
	s := NewServer(testLogger(), func(ev model.Event) model.Outcome {
		calls++
		return model.OutcomeFinal
	})

	peer := model.NewNodeId()
	_, duplicate, err := s.Decode(encodeWireEvent(t, peer, 1))
	require.NoError(t, err)
	assert.False(t, duplicate)

	_, duplicate, err = s.Decode(encodeWireEvent(t, peer, 1))
	require.NoError(t, err)
	assert.True(t, duplicate, "retransmission of the same token must be flagged duplicate")

	_, duplicate, err = s.Decode(encodeWireEvent(t, peer, 1))
	require.NoError(t, err)
	assert.True(t, duplicate, "a third retransmission must still be flagged duplicate")
}

func TestServerDecodeAdvancingTokenIsNotDuplicate(t *testing.T) {
	s := NewServer(testLogger(), func(ev model.Event) model.Outcome { return model.OutcomeFinal })
	peer := model.NewNodeId()

	_, duplicate, err := s.Decode(encodeWireEvent(t, peer, 1))
	require.NoError(t, err)
	assert.False(t, duplicate)

	_, duplicate, err = s.Decode(encodeWireEvent(t, peer, 2))
	require.NoError(t, err)
	assert.False(t, duplicate, "a fresh token from the same peer must not be treated as duplicate")
}

// TestHandleRequestSkipsHandlerOnDuplicate covers the flag handleRequest's
// duplicate path relies on (spec.md §8 I5): after one dispatch, Decode
// marks the retransmitted body as a duplicate, the handler has still run
// only once, and the IGNORED ack round-trips. It does not call
// handleRequest itself, which needs a CoAP connection.
func TestHandleRequestSkipsHandlerOnDuplicate(t *testing.T) {
	var calls int
	s := NewServer(testLogger(), func(ev model.Event) model.Outcome {
		calls++
		return model.OutcomeFinal
	})

	peer := model.NewNodeId()
	body := encodeWireEvent(t, peer, 1)

	ev, duplicate, err := s.Decode(body)
	require.NoError(t, err)
	require.False(t, duplicate)
	s.Dispatch(ev)
	assert.Equal(t, 1, calls)

	_, duplicate, err = s.Decode(body)
	require.NoError(t, err)
	require.True(t, duplicate)
	// handleRequest returns on this flag without calling s.Dispatch, so
	// s.handler is not reached a second time.
	assert.Equal(t, 1, calls, "duplicate delivery must not re-invoke the handler")

	raw, err := json.Marshal(wireOutcome{Outcome: model.OutcomeIgnored})
	require.NoError(t, err)
	var decoded wireOutcome
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, model.OutcomeIgnored, decoded.Outcome)
}
