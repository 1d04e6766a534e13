// Package dataplane implements the per-node routing fabric (spec.md §4.3):
// local delivery to hosted instances, remote delivery to peer nodes, and
// call/reply correlation by streamId.
package dataplane

import (
	"context"
	"sync"

	"edgeless/internal/logger"
	"edgeless/internal/model"
)

// DataPlane owns the local and remote routers for one node and correlates
// outstanding Call events with their replies.
type DataPlane struct {
	SelfNodeId model.NodeId
	Local      *LocalRouter
	Remote     *RemoteRouter

	log *logger.Logger

	mu      sync.Mutex
	pending map[model.StreamId]chan CallRet
}

// New creates a DataPlane for selfNodeId.
func New(selfNodeId model.NodeId, local *LocalRouter, remote *RemoteRouter, log *logger.Logger) *DataPlane {
	return &DataPlane{
		SelfNodeId: selfNodeId,
		Local:      local,
		Remote:     remote,
		log:        log,
		pending:    make(map[model.StreamId]chan CallRet),
	}
}

func (dp *DataPlane) registerPending(streamId model.StreamId) chan CallRet {
	ch := make(chan CallRet, 1)
	dp.mu.Lock()
	dp.pending[streamId] = ch
	dp.mu.Unlock()
	return ch
}

// cancelPending drops a pending call's channel. A subsequently-arriving
// late reply finds no entry and is discarded (spec.md §5 "Cancellation &
// timeouts").
func (dp *DataPlane) cancelPending(streamId model.StreamId) {
	dp.mu.Lock()
	delete(dp.pending, streamId)
	dp.mu.Unlock()
}

func (dp *DataPlane) completePending(streamId model.StreamId, ret CallRet) bool {
	dp.mu.Lock()
	ch, ok := dp.pending[streamId]
	if ok {
		delete(dp.pending, streamId)
	}
	dp.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- ret:
	default:
	}
	return true
}

// PendingCount reports the number of outstanding calls, for tests and
// diagnostics (spec.md §8 invariant I3: "no call blocks forever").
func (dp *DataPlane) PendingCount() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return len(dp.pending)
}

// route sends ev either via local short-circuiting (spec.md §2) or the
// remote router, depending on ev.Target.NodeId.
func (dp *DataPlane) route(ctx context.Context, ev model.Event) (model.Outcome, error) {
	if ev.Target.NodeId == dp.SelfNodeId {
		return dp.deliverLocal(ev), nil
	}
	return dp.Remote.Send(ctx, ev)
}

// deliverLocal handles an event whose target lives on this node: replies
// to outstanding calls are matched by streamId; everything else goes to
// the target instance's inbox via the local router.
func (dp *DataPlane) deliverLocal(ev model.Event) model.Outcome {
	switch ev.Kind {
	case model.KindCallRet, model.KindCallNoRet, model.KindErr:
		ret := CallRet{Kind: ev.Kind, Payload: ev.Payload}
		if ev.Kind == model.KindErr {
			ret.ErrReason = string(ev.Payload)
		}
		if dp.completePending(ev.StreamId, ret) {
			return model.OutcomeFinal
		}
		// No pending call: either already timed out/cancelled, or this is
		// an inbound Err/CallRet the owning instance consumes directly
		// (e.g. a resource provider surfacing an async error). Fall
		// through to normal local delivery.
	}
	return dp.Local.Deliver(ev)
}

// InboundFromPeer is called by the invocation transport server when a
// remote peer's Handle(event) RPC delivers ev to this node.
func (dp *DataPlane) InboundFromPeer(ev model.Event) model.Outcome {
	return dp.deliverLocal(ev)
}
