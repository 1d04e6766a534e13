// Package agent implements the node agent (spec.md §4.4): the
// node-local RPC target for orchestrator-issued StartFunction/
// StopFunction/PatchFunction/UpdatePeers/Reset calls, bridging them into
// the runtime and the data plane's remote router.
package agent

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"edgeless/internal/config"
	"edgeless/internal/dataplane"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	edgelessruntime "edgeless/internal/runtime"
	"edgeless/internal/telemetry"
	"edgeless/internal/transport"
)

// FactoryResolver picks the runtime.Factory for a function class, so the
// agent can host WASM (wazero or wasmtime, per node config) and native
// classes side by side.
type FactoryResolver func(class model.FunctionClass) (edgelessruntime.Factory, error)

// ResourceProvider is the agent's distinct start/stop/patch dispatch for
// resource providers (spec.md §6 "ResourceConfiguration"), kept separate
// from the function-runtime Factory/Sandbox dispatch above even when one
// provider (internal/resources/echo) happens to also register a native
// function class for placement purposes: the two are orthogonal surfaces
// over the same underlying code.
type ResourceProvider interface {
	StartResource(ctx context.Context, resourceId model.ComponentId, providerId string, configuration map[string]string) error
	StopResource(ctx context.Context, resourceId model.ComponentId) error
	PatchResource(ctx context.Context, resourceId model.ComponentId, configuration map[string]string) error
}

type Agent struct {
	log          *logger.Logger
	cfg          config.NodeConfig
	selfId       model.NodeId
	capabilities model.NodeCapabilities
	dp           *dataplane.DataPlane
	register     *edgelessruntime.HostRegister
	resolve      FactoryResolver
	telem        *telemetry.Handle

	mu        sync.Mutex
	instances map[model.ComponentId]*edgelessruntime.Instance

	resourcesMu sync.Mutex
	resources   map[string]ResourceProvider
}

func New(log *logger.Logger, cfg config.NodeConfig, selfId model.NodeId, capabilities model.NodeCapabilities, dp *dataplane.DataPlane, register *edgelessruntime.HostRegister, resolve FactoryResolver, telem *telemetry.Handle) *Agent {
	return &Agent{
		log:          log,
		cfg:          cfg,
		selfId:       selfId,
		capabilities: capabilities,
		dp:           dp,
		register:     register,
		resolve:      resolve,
		telem:        telem,
		instances:    make(map[model.ComponentId]*edgelessruntime.Instance),
		resources:    make(map[string]ResourceProvider),
	}
}

// RegisterResourceProvider makes p reachable under providerId through the
// agent's start/stop/patch resource dispatch (spec.md §6).
func (a *Agent) RegisterResourceProvider(providerId string, p ResourceProvider) {
	a.resourcesMu.Lock()
	defer a.resourcesMu.Unlock()
	a.resources[providerId] = p
}

func (a *Agent) resourceProvider(providerId string) (ResourceProvider, error) {
	a.resourcesMu.Lock()
	defer a.resourcesMu.Unlock()
	p, ok := a.resources[providerId]
	if !ok {
		return nil, fmt.Errorf("agent: unknown resource provider %s", providerId)
	}
	return p, nil
}

// StartResourceInstance dispatches a ResourceConfiguration::start call to
// the provider registered under providerId.
func (a *Agent) StartResourceInstance(ctx context.Context, providerId string, resourceId model.ComponentId, configuration map[string]string) error {
	p, err := a.resourceProvider(providerId)
	if err != nil {
		return err
	}
	return p.StartResource(ctx, resourceId, providerId, configuration)
}

// StopResourceInstance dispatches a ResourceConfiguration::stop call.
func (a *Agent) StopResourceInstance(ctx context.Context, providerId string, resourceId model.ComponentId) error {
	p, err := a.resourceProvider(providerId)
	if err != nil {
		return err
	}
	return p.StopResource(ctx, resourceId)
}

// PatchResourceInstance dispatches a ResourceConfiguration::patch call.
func (a *Agent) PatchResourceInstance(ctx context.Context, providerId string, resourceId model.ComponentId, configuration map[string]string) error {
	p, err := a.resourceProvider(providerId)
	if err != nil {
		return err
	}
	return p.PatchResource(ctx, resourceId, configuration)
}

// StartFunction spawns a new local instance for lid, returning the
// physical InstanceId it was placed under (spec.md §4.4).
func (a *Agent) StartFunction(ctx context.Context, req model.SpawnRequest, lid model.LogicalId) (model.InstanceId, error) {
	factory, err := a.resolve(req.ClassSpec)
	if err != nil {
		return model.InstanceId{}, fmt.Errorf("agent: resolve factory for class %s: %w", req.ClassSpec.ClassId, err)
	}

	instanceId := model.InstanceId{NodeId: a.selfId, ComponentId: lid}
	handle := dataplane.NewHandle(a.dp, instanceId, a.cfg.CallTimeout, 64)
	instTelem := a.telem.Fork(map[string]any{"instance_id": instanceId.String()})

	initPayload, _ := req.InitPayload()

	exitHook := func(id model.InstanceId, status edgelessruntime.ExitStatus, cause error) {
		a.mu.Lock()
		delete(a.instances, id.ComponentId)
		a.mu.Unlock()
		if status != edgelessruntime.ExitOk {
			a.log.Error("instance exited abnormally", "instance_id", id, "status", status, "error", cause)
		}
	}

	inst := edgelessruntime.NewInstance(instanceId, req.ClassSpec, handle, instTelem, a.log, a.register, factory, []byte(initPayload), nil, exitHook)

	a.mu.Lock()
	a.instances[lid] = inst
	a.mu.Unlock()

	return instanceId, nil
}

// StopFunction stops and removes a locally-hosted instance.
func (a *Agent) StopFunction(ctx context.Context, id model.InstanceId) error {
	a.mu.Lock()
	inst, ok := a.instances[id.ComponentId]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	inst.Stop()
	a.mu.Lock()
	delete(a.instances, id.ComponentId)
	a.mu.Unlock()
	return nil
}

// PatchFunction updates a locally-hosted instance's output mapping.
func (a *Agent) PatchFunction(ctx context.Context, id model.InstanceId, patch map[string]model.InstanceId) error {
	a.mu.Lock()
	inst, ok := a.instances[id.ComponentId]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent: unknown local instance %s", id)
	}
	inst.Patch(patch)
	return nil
}

// UpdatePeers applies an orchestrator-issued peer membership change to
// the node's data-plane remote router (spec.md §4.3).
func (a *Agent) UpdatePeers(ctx context.Context, update transport.PeerUpdate) error {
	if update.Add {
		return a.dp.Remote.AddPeer(ctx, update.NodeId, update.InvocationUrl)
	}
	a.dp.Remote.DelPeer(update.NodeId)
	return nil
}

// Reset stops every locally-hosted instance (spec.md §4.4 "Reset").
func (a *Agent) Reset(ctx context.Context) error {
	a.mu.Lock()
	instances := make([]*edgelessruntime.Instance, 0, len(a.instances))
	for _, inst := range a.instances {
		instances = append(instances, inst)
	}
	a.instances = make(map[model.ComponentId]*edgelessruntime.Instance)
	a.mu.Unlock()

	for _, inst := range instances {
		inst.Stop()
	}
	return nil
}

// Health reports a snapshot for the orchestrator's tie-breaking metric
// (SPEC_FULL.md "Node health aggregation"). MemUsagePercent is the memory
// the Go runtime has obtained from the OS, as a percentage of 1 GiB; CPU
// usage is not sampled and is always reported as 0.
func (a *Agent) Health() model.NodeHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return model.NodeHealth{
		CPUUsagePercent: 0, // not sampled
		MemUsagePercent: float64(mem.Sys) / float64(1<<30) * 100,
		Stale:           false,
	}
}
