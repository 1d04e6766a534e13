package dataplane

import (
	"context"
	"sync"
	"time"

	"edgeless/internal/apierr"
	"edgeless/internal/model"
)

// Handle is the per-instance data-plane handle (spec.md §4.3 "Handles"):
// send (cast), call, reply, receive_next and update_mapping. Constructed
// once per function instance and passed by value-clone into the guest API
// (spec.md §9 "Cyclic references between data plane and guest API").
type Handle struct {
	dp          *DataPlane
	instanceId  model.InstanceId
	callTimeout time.Duration

	inbox <-chan model.Event

	mu      sync.RWMutex
	inputs  map[string]model.InstanceId
	outputs map[string]model.InstanceId
}

// NewHandle registers id as a locally-hosted instance and returns a handle
// for it. bufSize bounds the instance's inbound event queue.
func NewHandle(dp *DataPlane, id model.InstanceId, callTimeout time.Duration, bufSize int) *Handle {
	inbox := dp.Local.Register(id.ComponentId, bufSize)
	return &Handle{
		dp:          dp,
		instanceId:  id,
		callTimeout: callTimeout,
		inbox:       inbox,
		inputs:      make(map[string]model.InstanceId),
		outputs:     make(map[string]model.InstanceId),
	}
}

// Close deregisters the instance's inbox. Dropping the owning
// FunctionInstance calls this (spec.md §9).
func (h *Handle) Close() {
	h.dp.Local.Deregister(h.instanceId.ComponentId)
}

func (h *Handle) InstanceId() model.InstanceId { return h.instanceId }

func newEvent(kind model.EventKind, source, target model.InstanceId, payload []byte, streamId model.StreamId, meta model.EventMetadata) model.Event {
	return model.Event{
		Target:   target,
		Source:   source,
		StreamId: streamId,
		Kind:     kind,
		Payload:  payload,
		Created:  time.Now(),
		Metadata: meta,
	}
}

// Send delivers payload to target fire-and-forget; delivery failures are
// logged only, never surfaced to the caller (spec.md §7 "Data-plane casts
// are fire-and-forget").
func (h *Handle) Send(ctx context.Context, target model.InstanceId, payload []byte, meta model.EventMetadata) {
	ev := newEvent(model.KindCast, h.instanceId, target, payload, model.NewStreamId(), meta)
	if _, err := h.dp.route(ctx, ev); err != nil {
		h.dp.log.Warn("cast delivery failed", "target", target, "error", err)
	}
}

// Call allocates a streamId, routes the event, and awaits the reply on an
// internal channel, returning the terminal value (spec.md §4.3).
// Cancellation of ctx aborts the wait; a subsequently-arriving late reply
// is discarded (spec.md §5).
func (h *Handle) Call(ctx context.Context, target model.InstanceId, payload []byte) (CallRet, error) {
	streamId := model.NewStreamId()
	resultCh := h.dp.registerPending(streamId)

	ev := newEvent(model.KindCall, h.instanceId, target, payload, streamId, model.EventMetadata{Root: streamId})
	outcome, err := h.dp.route(ctx, ev)
	if err != nil {
		h.dp.cancelPending(streamId)
		return CallRet{}, err
	}
	if outcome == model.OutcomeIgnored {
		h.dp.cancelPending(streamId)
		return CallRet{}, apierr.ErrUnknownAlias
	}

	timer := time.NewTimer(h.callTimeout)
	defer timer.Stop()

	select {
	case ret := <-resultCh:
		return ret, nil
	case <-ctx.Done():
		h.dp.cancelPending(streamId)
		return CallRet{}, apierr.ErrCallCancelled
	case <-timer.C:
		h.dp.cancelPending(streamId)
		return CallRet{}, apierr.ErrCallTimeout
	}
}

// Reply completes an outstanding call on the source side, using the
// streamId saved from the original Call event (spec.md §4.3).
func (h *Handle) Reply(ctx context.Context, source model.InstanceId, streamId model.StreamId, ret CallRet) {
	ev := newEvent(ret.Kind, h.instanceId, source, ret.Payload, streamId, model.EventMetadata{Root: streamId})
	if ret.Kind == model.KindErr {
		ev.Payload = []byte(ret.ErrReason)
	}
	if _, err := h.dp.route(ctx, ev); err != nil {
		h.dp.log.Warn("reply delivery failed", "source", source, "error", err)
	}
}

// ReceiveNext is the consumer side for the owning instance: it blocks
// until the next inbound event or ctx cancellation.
func (h *Handle) ReceiveNext(ctx context.Context) (model.Event, bool) {
	select {
	case ev, ok := <-h.inbox:
		return ev, ok
	case <-ctx.Done():
		return model.Event{}, false
	}
}

// UpdateMapping replaces the symbolic-alias table used by the guest API
// (spec.md §4.5). Patch visibility is eventually consistent: events
// already in flight through the old mapping are permitted to complete
// using the old targets (spec.md §4.4).
func (h *Handle) UpdateMapping(inputs, outputs map[string]model.InstanceId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs = inputs
	h.outputs = outputs
}

// SetOutputs replaces only the output alias table, leaving inputs as-is.
// This is what an agent's PatchFunction RPC applies (spec.md §4.4).
func (h *Handle) SetOutputs(outputs map[string]model.InstanceId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs = outputs
}

// ResolveOutput resolves an output alias to its current target InstanceId.
func (h *Handle) ResolveOutput(alias string) (model.InstanceId, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.outputs[alias]
	return id, ok
}

// ResolveInput resolves an input alias to its current source InstanceId.
func (h *Handle) ResolveInput(alias string) (model.InstanceId, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.inputs[alias]
	return id, ok
}

// Clone returns a handle to the same instance sharing the DataPlane, for
// passing by value-clone into the guest API (spec.md §9).
func (h *Handle) Clone() *Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return &Handle{
		dp:          h.dp,
		instanceId:  h.instanceId,
		callTimeout: h.callTimeout,
		inbox:       h.inbox,
		inputs:      h.inputs,
		outputs:     h.outputs,
	}
}
