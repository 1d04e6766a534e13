// Package wazero implements runtime.Sandbox on top of tetratelabs/wazero,
// one of the two WASM engines EDGELESS nodes may be configured with
// (spec.md §4.5 "class_type: WASM"). The guest ABI is a flat byte-buffer
// convention: the guest exports alloc/dealloc plus edgeless_init/
// edgeless_handle_cast/edgeless_handle_call/edgeless_handle_stop, each
// taking (ptr, len) pairs into its own linear memory and returning a
// packed (ptr<<32|len) result; the host imports the Guest API as a
// matching set of "env" functions under the edgeless_guest module name.
package wazero

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
	"edgeless/internal/runtime"
)

// Engine owns one wazero runtime shared across every instance it spawns,
// matching wazero's guidance to compile modules once and instantiate per
// call site.
type Engine struct {
	rt wazero.Runtime

	mu       sync.Mutex
	compiled map[string]wazero.CompiledModule // ClassId -> compiled bytecode
}

func NewEngine(ctx context.Context) (*Engine, error) {
	rt := wazero.NewRuntime(ctx)
	return &Engine{rt: rt, compiled: make(map[string]wazero.CompiledModule)}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.rt.Close(ctx)
}

func (e *Engine) compile(ctx context.Context, class model.FunctionClass) (wazero.CompiledModule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.compiled[class.ClassId]; ok {
		return m, nil
	}
	m, err := e.rt.CompileModule(ctx, class.CodeBlob)
	if err != nil {
		return nil, fmt.Errorf("wazero: compile %s: %w", class.ClassId, err)
	}
	e.compiled[class.ClassId] = m
	return m, nil
}

// Factory returns a runtime.Factory bound to this engine.
func (e *Engine) Factory() runtime.Factory {
	return func(ctx context.Context, class model.FunctionClass, host runtime.GuestAPIHost) (runtime.Sandbox, error) {
		mod, err := e.compile(ctx, class)
		if err != nil {
			return nil, err
		}
		s := &sandbox{engine: e, host: host}
		hostModule, err := s.buildHostImports(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := hostModule.Instantiate(ctx); err != nil {
			return nil, fmt.Errorf("wazero: instantiate guest imports: %w", err)
		}
		instance, err := e.rt.InstantiateModule(ctx, mod, wazero.NewModuleConfig())
		if err != nil {
			return nil, fmt.Errorf("wazero: instantiate %s: %w", class.ClassId, err)
		}
		s.instance = instance
		return s, nil
	}
}

type sandbox struct {
	engine   *Engine
	host     runtime.GuestAPIHost
	instance api.Module
}

func (s *sandbox) buildHostImports(ctx context.Context) (wazero.HostModuleBuilder, error) {
	b := s.engine.rt.NewHostModuleBuilder("edgeless_guest")
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, level, msgPtr, msgLen uint32) {
		msg, _ := m.Memory().Read(msgPtr, msgLen)
		s.host.TelemetryLog("info", "wasm", string(msg))
	}).Export("telemetry_log")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, aliasPtr, aliasLen, payloadPtr, payloadLen uint32) {
		alias, _ := m.Memory().Read(aliasPtr, aliasLen)
		payload, _ := m.Memory().Read(payloadPtr, payloadLen)
		_ = s.host.Cast(ctx, string(alias), append([]byte(nil), payload...))
	}).Export("cast")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, aliasPtr, aliasLen, payloadPtr, payloadLen uint32) uint64 {
		alias, _ := m.Memory().Read(aliasPtr, aliasLen)
		payload, _ := m.Memory().Read(payloadPtr, payloadLen)
		ret, err := s.host.Call(ctx, string(alias), append([]byte(nil), payload...))
		if err != nil {
			ret = dataplane.Err(err.Error())
		}
		return s.writeReturn(ctx, m, ret.Payload)
	}).Export("call")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, delayMs uint32, aliasPtr, aliasLen, payloadPtr, payloadLen uint32) {
		alias, _ := m.Memory().Read(aliasPtr, aliasLen)
		payload, _ := m.Memory().Read(payloadPtr, payloadLen)
		_ = s.host.DelayedCast(ctx, int(delayMs), string(alias), append([]byte(nil), payload...))
	}).Export("delayed_cast")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, statePtr, stateLen uint32) {
		state, _ := m.Memory().Read(statePtr, stateLen)
		_ = s.host.Sync(ctx, append([]byte(nil), state...))
	}).Export("sync")

	return b, nil
}

// writeReturn allocates space in the guest's memory via its exported
// "alloc" function, writes payload into it, and packs (ptr,len) into one
// uint64 the way many WASM component ABIs (e.g. Extism-style hosts) do to
// avoid a second host->guest call per return value.
func (s *sandbox) writeReturn(ctx context.Context, m api.Module, payload []byte) uint64 {
	if len(payload) == 0 {
		return 0
	}
	alloc := m.ExportedFunction("alloc")
	if alloc == nil {
		return 0
	}
	res, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil || len(res) == 0 {
		return 0
	}
	ptr := uint32(res[0])
	m.Memory().Write(ptr, payload)
	return uint64(ptr)<<32 | uint64(len(payload))
}

func (s *sandbox) callGuest(ctx context.Context, name string, payload []byte) (uint64, error) {
	fn := s.instance.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("wazero: guest missing export %q", name)
	}
	ptr, length := s.writeArg(ctx, payload)
	res, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (s *sandbox) writeArg(ctx context.Context, payload []byte) (uint32, uint32) {
	if len(payload) == 0 {
		return 0, 0
	}
	alloc := s.instance.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0
	}
	res, err := alloc.Call(ctx, uint64(len(payload)))
	if err != nil || len(res) == 0 {
		return 0, 0
	}
	ptr := uint32(res[0])
	s.instance.Memory().Write(ptr, payload)
	return ptr, uint32(len(payload))
}

func unpack(v uint64) (uint32, uint32) {
	return uint32(v >> 32), uint32(v)
}

func (s *sandbox) Init(ctx context.Context, payload, state []byte) error {
	combined := append(append([]byte(nil), encodeLen(payload)...), append(payload, state...)...)
	_, err := s.callGuest(ctx, "edgeless_init", combined)
	return err
}

func encodeLen(b []byte) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(b)))
	return out
}

func (s *sandbox) HandleCast(ctx context.Context, src model.InstanceId, portId string, payload []byte) error {
	_, err := s.callGuest(ctx, "edgeless_handle_cast", payload)
	return err
}

func (s *sandbox) HandleCall(ctx context.Context, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error) {
	packed, err := s.callGuest(ctx, "edgeless_handle_call", payload)
	if err != nil {
		return dataplane.CallRet{}, err
	}
	ptr, length := unpack(packed)
	if length == 0 {
		return dataplane.NoReply(), nil
	}
	out, ok := s.instance.Memory().Read(ptr, length)
	if !ok {
		return dataplane.Err("wazero: guest returned invalid memory range"), nil
	}
	return dataplane.Reply(append([]byte(nil), out...)), nil
}

func (s *sandbox) HandleStop(ctx context.Context) error {
	_, err := s.callGuest(ctx, "edgeless_handle_stop", nil)
	if s.instance != nil {
		_ = s.instance.Close(ctx)
	}
	return err
}
