// Package runtime implements the node-local function runtime: the
// per-instance task that pumps events from the data plane into a sandbox
// and pushes guest-API side-effects back into the data plane (spec.md
// §4.5), and the finite state machine around each instance.
package runtime

import (
	"context"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
)

// Sandbox is the host's view of a single instantiated function, whatever
// the underlying technology (WASM via wazero/wasmtime, or native code in
// the same address space). Implementations live in runtime/wasm/* and
// runtime/native.
type Sandbox interface {
	// Init delivers init(payload, serialized_state) (spec.md §4.5).
	Init(ctx context.Context, payload []byte, serializedState []byte) error
	// HandleCast invokes the sandbox's cast handler.
	HandleCast(ctx context.Context, src model.InstanceId, portId string, payload []byte) error
	// HandleCall invokes the sandbox's call handler, expecting one of
	// NoRet | Reply(bytes) | Err.
	HandleCall(ctx context.Context, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error)
	// HandleStop invokes the sandbox's stop handler.
	HandleStop(ctx context.Context) error
}

// Factory instantiates a Sandbox for a function class. A non-nil error
// here is a BadCode exit (spec.md §4.5 "sandbox refused to instantiate").
type Factory func(ctx context.Context, class model.FunctionClass, host GuestAPIHost) (Sandbox, error)

// GuestAPIHost is the capability set a Sandbox receives at construction
// time to call back into the host (spec.md §4.5 "Guest API"). Defined in
// this package rather than a separate guestapi subpackage: Sandbox
// implementations (runtime/wasm/*, runtime/native) need GuestAPIHost and
// the concrete instanceGuestAPI (guestapi.go) needs Instance, so splitting
// the interface out would just recreate the cyclic reference spec.md §9
// calls out one level up instead of avoiding it.
type GuestAPIHost interface {
	TelemetryLog(level, target, message string)
	CastRaw(ctx context.Context, target model.InstanceId, payload []byte)
	CallRaw(ctx context.Context, target model.InstanceId, payload []byte) (dataplane.CallRet, error)
	Cast(ctx context.Context, alias string, payload []byte) error
	Call(ctx context.Context, alias string, payload []byte) (dataplane.CallRet, error)
	DelayedCast(ctx context.Context, delayMs int, alias string, payload []byte) error
	Sync(ctx context.Context, state []byte) error
	Slf() model.InstanceId
}
