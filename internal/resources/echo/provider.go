package echo

import (
	"context"
	"fmt"
	"sync"

	"edgeless/internal/model"
)

// Provider implements the agent's distinct ResourceConfiguration contract
// (spec.md §6 "start/stop/patch", SPEC_FULL.md "Resource-provider
// start/stop/patch contract"). It is deliberately not the same dispatch
// path as Register above: StartResource/StopResource/PatchResource track
// the configuration map handed to each resource id directly, since the
// echo provider has no external resource to actually configure — it
// exists only to exercise the contract end-to-end.
type Provider struct {
	mu    sync.Mutex
	state map[model.ComponentId]map[string]string
}

func NewProvider() *Provider {
	return &Provider{state: make(map[model.ComponentId]map[string]string)}
}

func (p *Provider) StartResource(ctx context.Context, resourceId model.ComponentId, providerId string, configuration map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.state[resourceId]; exists {
		return fmt.Errorf("echo: resource %s already started", resourceId)
	}
	p.state[resourceId] = configuration
	return nil
}

func (p *Provider) StopResource(ctx context.Context, resourceId model.ComponentId) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.state, resourceId)
	return nil
}

func (p *Provider) PatchResource(ctx context.Context, resourceId model.ComponentId, configuration map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.state[resourceId]; !exists {
		return fmt.Errorf("echo: unknown resource %s", resourceId)
	}
	p.state[resourceId] = configuration
	return nil
}

// Configuration returns resourceId's current configuration, for tests.
func (p *Provider) Configuration(resourceId model.ComponentId) (map[string]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.state[resourceId]
	return cfg, ok
}
