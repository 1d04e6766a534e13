// Package wasmtime implements runtime.Sandbox on top of
// bytecodealliance/wasmtime-go, the alternative WASM engine a node can
// select via EDGELESS_NODE_WASM_ENGINE=wasmtime (spec.md §4.5). It uses
// the same flat-buffer guest ABI as runtime/wasm/wazero, but of the guest
// API it imports only telemetry_log, cast and sync: call and delayed_cast
// are not provided, so a .wasm binary that imports them does not
// instantiate under this engine.
package wasmtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bytecodealliance/wasmtime-go/v14"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
	"edgeless/internal/runtime"
)

type Engine struct {
	engine *wasmtime.Engine

	mu      sync.Mutex
	modules map[string]*wasmtime.Module
}

func NewEngine() *Engine {
	return &Engine{engine: wasmtime.NewEngine(), modules: make(map[string]*wasmtime.Module)}
}

func (e *Engine) module(class model.FunctionClass) (*wasmtime.Module, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.modules[class.ClassId]; ok {
		return m, nil
	}
	m, err := wasmtime.NewModule(e.engine, class.CodeBlob)
	if err != nil {
		return nil, fmt.Errorf("wasmtime: compile %s: %w", class.ClassId, err)
	}
	e.modules[class.ClassId] = m
	return m, nil
}

func (e *Engine) Factory() runtime.Factory {
	return func(ctx context.Context, class model.FunctionClass, host runtime.GuestAPIHost) (runtime.Sandbox, error) {
		mod, err := e.module(class)
		if err != nil {
			return nil, err
		}
		store := wasmtime.NewStore(e.engine)
		s := &sandbox{host: host, store: store}

		linker := wasmtime.NewLinker(e.engine)
		if err := s.defineImports(linker); err != nil {
			return nil, err
		}
		instance, err := linker.Instantiate(store, mod)
		if err != nil {
			return nil, fmt.Errorf("wasmtime: instantiate %s: %w", class.ClassId, err)
		}
		s.instance = instance
		return s, nil
	}
}

type sandbox struct {
	host     runtime.GuestAPIHost
	store    *wasmtime.Store
	instance *wasmtime.Instance
}

func (s *sandbox) defineImports(linker *wasmtime.Linker) error {
	if err := linker.FuncWrap("edgeless_guest", "telemetry_log", func(level int32, ptr, length int32) {
		msg := s.readMemory(ptr, length)
		s.host.TelemetryLog("info", "wasm", string(msg))
	}); err != nil {
		return err
	}
	if err := linker.FuncWrap("edgeless_guest", "cast", func(aliasPtr, aliasLen, payloadPtr, payloadLen int32) {
		alias := s.readMemory(aliasPtr, aliasLen)
		payload := s.readMemory(payloadPtr, payloadLen)
		_ = s.host.Cast(context.Background(), string(alias), payload)
	}); err != nil {
		return err
	}
	if err := linker.FuncWrap("edgeless_guest", "sync", func(ptr, length int32) {
		state := s.readMemory(ptr, length)
		_ = s.host.Sync(context.Background(), state)
	}); err != nil {
		return err
	}
	return nil
}

func (s *sandbox) readMemory(ptr, length int32) []byte {
	mem := s.instance.GetExport(s.store, "memory").Memory()
	data := mem.UnsafeData(s.store)
	if int(ptr) < 0 || int(ptr)+int(length) > len(data) {
		return nil
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out
}

func (s *sandbox) writeMemory(payload []byte) (int32, int32) {
	if len(payload) == 0 {
		return 0, 0
	}
	alloc := s.instance.GetExport(s.store, "alloc").Func()
	res, err := alloc.Call(s.store, int32(len(payload)))
	if err != nil {
		return 0, 0
	}
	ptr := res.(int32)
	mem := s.instance.GetExport(s.store, "memory").Memory()
	data := mem.UnsafeData(s.store)
	copy(data[ptr:], payload)
	return ptr, int32(len(payload))
}

func (s *sandbox) callGuest(name string, payload []byte) ([]byte, error) {
	fn := s.instance.GetExport(s.store, name).Func()
	if fn == nil {
		return nil, fmt.Errorf("wasmtime: guest missing export %q", name)
	}
	ptr, length := s.writeMemory(payload)
	res, err := fn.Call(s.store, ptr, length)
	if err != nil {
		return nil, fmt.Errorf("wasmtime: trap in %s: %w", name, err)
	}
	packed, ok := res.(int64)
	if !ok || packed == 0 {
		return nil, nil
	}
	outPtr := int32(packed >> 32)
	outLen := int32(packed)
	return s.readMemory(outPtr, outLen), nil
}

func (s *sandbox) Init(ctx context.Context, payload, state []byte) error {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(payload)))
	buf = append(append(buf, payload...), state...)
	_, err := s.callGuest("edgeless_init", buf)
	return err
}

func (s *sandbox) HandleCast(ctx context.Context, src model.InstanceId, portId string, payload []byte) error {
	_, err := s.callGuest("edgeless_handle_cast", payload)
	return err
}

func (s *sandbox) HandleCall(ctx context.Context, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error) {
	out, err := s.callGuest("edgeless_handle_call", payload)
	if err != nil {
		return dataplane.CallRet{}, err
	}
	if out == nil {
		return dataplane.NoReply(), nil
	}
	return dataplane.Reply(out), nil
}

func (s *sandbox) HandleStop(ctx context.Context) error {
	_, err := s.callGuest("edgeless_handle_stop", nil)
	return err
}
