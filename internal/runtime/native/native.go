// Package native implements runtime.Sandbox for function classes whose
// code is a registered Go closure in the same process, rather than a
// WASM module (spec.md §4.5 "class_type: Native"). It exists mainly for
// resource providers and built-in functions that ship with a node.
package native

import (
	"context"
	"fmt"
	"sync"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
	"edgeless/internal/runtime"
)

// Handlers is the set of callbacks a native function class provides.
type Handlers struct {
	Init       func(ctx context.Context, host runtime.GuestAPIHost, payload, state []byte) error
	HandleCast func(ctx context.Context, host runtime.GuestAPIHost, src model.InstanceId, portId string, payload []byte) error
	HandleCall func(ctx context.Context, host runtime.GuestAPIHost, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error)
	HandleStop func(ctx context.Context, host runtime.GuestAPIHost) error
}

// Registry maps a FunctionClass's ClassId to the Handlers implementing
// it, and is installed into runtime.Factory via NewFactory.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handlers
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handlers)}
}

func (r *Registry) Register(classId string, h Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[classId] = h
}

func (r *Registry) lookup(classId string) (Handlers, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[classId]
	return h, ok
}

// NewFactory returns a runtime.Factory backed by r. Native sandboxes keep
// the GuestAPIHost passed to the factory and never look it up in
// runtime.HostRegister.
func (r *Registry) NewFactory() runtime.Factory {
	return func(ctx context.Context, class model.FunctionClass, host runtime.GuestAPIHost) (runtime.Sandbox, error) {
		h, ok := r.lookup(class.ClassId)
		if !ok {
			return nil, fmt.Errorf("native: unknown class id %q", class.ClassId)
		}
		return &sandbox{handlers: h, host: host}, nil
	}
}

type sandbox struct {
	handlers Handlers
	host     runtime.GuestAPIHost
}

func (s *sandbox) Init(ctx context.Context, payload, state []byte) error {
	if s.handlers.Init == nil {
		return nil
	}
	return s.handlers.Init(ctx, s.host, payload, state)
}

func (s *sandbox) HandleCast(ctx context.Context, src model.InstanceId, portId string, payload []byte) error {
	if s.handlers.HandleCast == nil {
		return nil
	}
	return s.handlers.HandleCast(ctx, s.host, src, portId, payload)
}

func (s *sandbox) HandleCall(ctx context.Context, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error) {
	if s.handlers.HandleCall == nil {
		return dataplane.NoReply(), nil
	}
	return s.handlers.HandleCall(ctx, s.host, src, portId, payload)
}

func (s *sandbox) HandleStop(ctx context.Context) error {
	if s.handlers.HandleStop == nil {
		return nil
	}
	return s.handlers.HandleStop(ctx, s.host)
}
