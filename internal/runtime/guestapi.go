package runtime

import (
	"context"
	"time"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
)

// instanceGuestAPI is the concrete GuestAPIHost handed to every sandbox
// (spec.md §4.5 "Guest API"). It is intentionally unexported: sandboxes
// only ever see it through the GuestAPIHost interface, so a WASM binding
// layer and native code share one implementation without either one
// importing the other.
type instanceGuestAPI struct {
	inst *Instance
}

func newInstanceGuestAPI(inst *Instance) *instanceGuestAPI {
	return &instanceGuestAPI{inst: inst}
}

func (g *instanceGuestAPI) TelemetryLog(level, target, message string) {
	g.inst.telemetry.Log(level, target, message)
}

func (g *instanceGuestAPI) CastRaw(ctx context.Context, target model.InstanceId, payload []byte) {
	g.inst.dp.Send(ctx, target, payload, model.EventMetadata{})
}

func (g *instanceGuestAPI) CallRaw(ctx context.Context, target model.InstanceId, payload []byte) (dataplane.CallRet, error) {
	return g.inst.dp.Call(ctx, target, payload)
}

// Cast resolves alias against the instance's current output mapping
// (spec.md §4.5: "casting/calling an unmapped alias ... cast: logged and
// dropped").
func (g *instanceGuestAPI) Cast(ctx context.Context, alias string, payload []byte) error {
	target, ok := g.inst.dp.ResolveOutput(alias)
	if !ok {
		g.inst.log.Warn("cast to unmapped alias dropped", "instance_id", g.inst.id, "alias", alias)
		return nil
	}
	g.inst.dp.Send(ctx, target, payload, model.EventMetadata{})
	return nil
}

// Call resolves alias and blocks for a reply. An unmapped alias is an
// Err outcome back to the caller, not a dropped call (spec.md §4.5:
// "call: an Err reply without reaching the network").
func (g *instanceGuestAPI) Call(ctx context.Context, alias string, payload []byte) (dataplane.CallRet, error) {
	target, ok := g.inst.dp.ResolveOutput(alias)
	if !ok {
		return dataplane.Err("unknown alias: " + alias), nil
	}
	return g.inst.dp.Call(ctx, target, payload)
}

// DelayedCast schedules a cast to fire after delayMs without blocking the
// sandbox's processing loop (spec.md §4.5 "delayed_cast").
func (g *instanceGuestAPI) DelayedCast(ctx context.Context, delayMs int, alias string, payload []byte) error {
	target, ok := g.inst.dp.ResolveOutput(alias)
	if !ok {
		g.inst.log.Warn("delayed_cast to unmapped alias dropped", "instance_id", g.inst.id, "alias", alias)
		return nil
	}
	d := time.Duration(delayMs) * time.Millisecond
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			g.inst.dp.Send(context.Background(), target, payload, model.EventMetadata{})
		case <-g.inst.stopCh:
		}
	}()
	return nil
}

// Sync persists serialized sandbox state so a future migration/restart
// can resume from it (spec.md §4.5 "sync"). The runtime keeps the most
// recent snapshot in memory; durable persistence is the orchestrator's
// concern on PatchFunction/migration.
func (g *instanceGuestAPI) Sync(ctx context.Context, state []byte) error {
	g.inst.serializedState = state
	return nil
}

func (g *instanceGuestAPI) Slf() model.InstanceId {
	return g.inst.id
}
