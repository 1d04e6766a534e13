package dataplane

import (
	"sync"

	"edgeless/internal/model"
)

// LocalRouter is a mapping ComponentId -> inbound event channel for
// instances hosted on this node (spec.md §4.3 "Local router"), modeled on
// the teacher's fanout Hub connection registry.
type LocalRouter struct {
	mu       sync.RWMutex
	inboxes  map[model.ComponentId]chan model.Event
}

// NewLocalRouter creates an empty local router.
func NewLocalRouter() *LocalRouter {
	return &LocalRouter{inboxes: make(map[model.ComponentId]chan model.Event)}
}

// Register creates (or replaces) the inbox for a locally-hosted component
// and returns it for the owning instance task to receive from.
func (r *LocalRouter) Register(id model.ComponentId, bufSize int) <-chan model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan model.Event, bufSize)
	r.inboxes[id] = ch
	return ch
}

// Deregister removes and closes the inbox for id.
func (r *LocalRouter) Deregister(id model.ComponentId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.inboxes[id]; ok {
		delete(r.inboxes, id)
		close(ch)
	}
}

// Deliver pushes ev to the local inbox named by ev.Target.ComponentId.
// Returns OutcomeIgnored if no such component is hosted locally, which the
// caller may treat as non-fatal (spec.md §4.3: "if absent, return IGNORED").
func (r *LocalRouter) Deliver(ev model.Event) model.Outcome {
	r.mu.RLock()
	ch, ok := r.inboxes[ev.Target.ComponentId]
	r.mu.RUnlock()
	if !ok {
		return model.OutcomeIgnored
	}
	select {
	case ch <- ev:
		return model.OutcomeFinal
	default:
		// Inbox full: the instance is not keeping up. Drop rather than
		// block the router, matching the per-event serial processing
		// guarantee (spec.md §5) — a blocked router would stall unrelated
		// instances.
		return model.OutcomeError
	}
}

// Has reports whether id is currently registered locally.
func (r *LocalRouter) Has(id model.ComponentId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.inboxes[id]
	return ok
}
