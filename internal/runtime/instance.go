package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"edgeless/internal/apierr"
	"edgeless/internal/dataplane"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/telemetry"
)

// ExitHook is invoked once when an instance's task terminates.
type ExitHook func(id model.InstanceId, status ExitStatus, cause error)

// Instance owns exactly one long-running task for a function instance
// (spec.md §4.5). Dropping (Stop-ing) the owning handle aborts its task
// (spec.md §5 "No global mutable state ... All lifetimes are tied to
// tasks").
type Instance struct {
	id        model.InstanceId
	class     model.FunctionClass
	dp        *dataplane.Handle
	telemetry *telemetry.Handle
	log       *logger.Logger
	register  *HostRegister
	factory   Factory

	initPayload     []byte
	serializedState []byte

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	exitHook ExitHook
}

// NewInstance creates and immediately starts an instance's task.
func NewInstance(
	id model.InstanceId,
	class model.FunctionClass,
	dp *dataplane.Handle,
	telem *telemetry.Handle,
	log *logger.Logger,
	register *HostRegister,
	factory Factory,
	initPayload, serializedState []byte,
	exitHook ExitHook,
) *Instance {
	inst := &Instance{
		id:              id,
		class:           class,
		dp:              dp,
		telemetry:       telem,
		log:             log,
		register:        register,
		factory:         factory,
		initPayload:     initPayload,
		serializedState: serializedState,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		exitHook:        exitHook,
	}
	inst.state.Store(int32(StateCreated))
	go inst.run()
	return inst
}

func (i *Instance) State() State { return State(i.state.Load()) }

// Patch replaces the instance's output alias table (spec.md §4.4
// PatchFunction).
func (i *Instance) Patch(outputs map[string]model.InstanceId) {
	i.dp.SetOutputs(outputs)
}

// Stop sends the stop signal and waits for the task to terminate.
func (i *Instance) Stop() {
	select {
	case <-i.stopCh:
	default:
		close(i.stopCh)
	}
	<-i.doneCh
}

func (i *Instance) run() {
	defer close(i.doneCh)
	defer i.dp.Close()

	ctx := context.Background()

	sandbox, guestHost, err := i.instantiate(ctx)
	if err != nil {
		i.log.Error("instance failed to instantiate", "instance_id", i.id, "error", err)
		i.exit(ctx, ExitBadCode, err)
		return
	}
	i.state.Store(int32(StateInstantiated))

	if err := sandbox.Init(ctx, i.initPayload, i.serializedState); err != nil {
		i.log.Error("instance init trapped", "instance_id", i.id, "error", err)
		i.register.DeregisterGuestAPIHost(i.id)
		i.exit(ctx, ExitBadCode, err)
		return
	}
	i.state.Store(int32(StateReady))

	status, cause := i.processingLoop(ctx, sandbox)

	i.register.DeregisterGuestAPIHost(i.id)
	_ = guestHost
	i.exit(ctx, status, cause)
}

func (i *Instance) instantiate(ctx context.Context) (Sandbox, GuestAPIHost, error) {
	guestHost := newInstanceGuestAPI(i)
	if i.register.NeedsToRegister() {
		i.register.RegisterGuestAPIHost(i.id, guestHost)
	}
	sandbox, err := i.factory(ctx, i.class, guestHost)
	if err != nil {
		i.register.DeregisterGuestAPIHost(i.id)
		return nil, guestHost, err
	}
	if !i.register.NeedsToRegister() {
		// Native runtimes resolve hosts by lookup at call time; register
		// only after a successful instantiate so lookups never observe a
		// half-constructed sandbox.
		i.register.RegisterGuestAPIHost(i.id, guestHost)
	}
	return sandbox, guestHost, nil
}

// processingLoop selects between the stop signal and the next inbound
// event (spec.md §9 "Per-instance task with shutdown").
func (i *Instance) processingLoop(ctx context.Context, sandbox Sandbox) (ExitStatus, error) {
	for {
		select {
		case <-i.stopCh:
			if err := sandbox.HandleStop(ctx); err != nil {
				i.log.Warn("sandbox stop handler error", "instance_id", i.id, "error", err)
			}
			i.state.Store(int32(StateStopped))
			return ExitOk, nil

		default:
		}

		evCtx, cancel := contextWithStop(ctx, i.stopCh)
		ev, ok := i.dp.ReceiveNext(evCtx)
		cancel()
		if !ok {
			select {
			case <-i.stopCh:
				if err := sandbox.HandleStop(ctx); err != nil {
					i.log.Warn("sandbox stop handler error", "instance_id", i.id, "error", err)
				}
				i.state.Store(int32(StateStopped))
				return ExitOk, nil
			default:
				// Inbox closed without a stop signal: treat as a clean
				// shutdown initiated elsewhere (e.g. node reset).
				return ExitOk, nil
			}
		}

		if i.State() != StateReady {
			// A cast/call received in a non-Ready state is an internal
			// error (spec.md §4.5).
			return ExitInternalError, apierr.ErrUnimplemented
		}

		if status, cause, fatal := i.handleEvent(ctx, sandbox, ev); fatal {
			return status, cause
		}
	}
}

func (i *Instance) handleEvent(ctx context.Context, sandbox Sandbox, ev model.Event) (ExitStatus, error, bool) {
	start := time.Now()
	switch ev.Kind {
	case model.KindCast:
		err := sandbox.HandleCast(ctx, ev.Source, portFromMetadata(ev), ev.Payload)
		i.telemetry.Duration("cast", time.Since(start))
		if err != nil {
			i.log.Warn("cast handler error", "instance_id", i.id, "error", err)
		}
	case model.KindCall:
		ret, err := sandbox.HandleCall(ctx, ev.Source, portFromMetadata(ev), ev.Payload)
		i.telemetry.Duration("call", time.Since(start))
		if err != nil {
			// A host invariant broke while servicing the call: this is a
			// fault that must fail the sandbox (spec.md §4.5).
			return ExitInternalError, err, true
		}
		i.dp.Reply(ctx, ev.Source, ev.StreamId, ret)
	default:
		i.log.Warn("unexpected event kind at instance", "instance_id", i.id, "kind", ev.Kind)
	}
	return ExitOk, nil, false
}

func (i *Instance) exit(ctx context.Context, status ExitStatus, cause error) {
	i.state.Store(int32(StateExited))
	i.telemetry.Log("info", "exit", "function instance exited: "+status.String())
	if i.exitHook != nil {
		i.exitHook(i.id, status, cause)
	}
}

// portFromMetadata extracts the symbolic port/channel name an event
// arrived on. EDGELESS events are addressed by InstanceId, not by port
// name, and carry no port name, so every event is delivered with the
// empty port.
func portFromMetadata(ev model.Event) string {
	return ""
}

func contextWithStop(parent context.Context, stopCh <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
