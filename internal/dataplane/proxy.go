package dataplane

import (
	"context"
	"sync"

	"edgeless/internal/logger"
	"edgeless/internal/model"
)

// Proxy bridges two data-plane namespaces (spec.md §4.6): an inner handle
// on the local router and an external handle, typically reachable only
// through the remote router of another domain. A patch replaces both
// alias tables atomically, enabling a workflow to span domains
// transparently.
type Proxy struct {
	log *logger.Logger

	inner    *Handle
	external *Handle

	mu              sync.RWMutex
	innerOutputs    map[string]model.InstanceId // inner_outputs: inner alias -> external target
	externalOutputs map[string]model.InstanceId // external_outputs: external alias -> inner target

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProxy starts forwarding between inner and external handles.
func NewProxy(log *logger.Logger, inner, external *Handle) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Proxy{
		log:             log,
		inner:           inner,
		external:        external,
		innerOutputs:    make(map[string]model.InstanceId),
		externalOutputs: make(map[string]model.InstanceId),
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Patch atomically replaces both alias tables (spec.md §4.6: "A patch to a
// proxy replaces both tables atomically").
func (p *Proxy) Patch(innerOutputs, externalOutputs map[string]model.InstanceId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.innerOutputs = innerOutputs
	p.externalOutputs = externalOutputs
}

func (p *Proxy) run(ctx context.Context) {
	defer close(p.done)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.pump(ctx, p.inner, p.external, func() map[string]model.InstanceId { return p.snapshotInner() }) }()
	go func() { defer wg.Done(); p.pump(ctx, p.external, p.inner, func() map[string]model.InstanceId { return p.snapshotExternal() }) }()
	wg.Wait()
}

func (p *Proxy) snapshotInner() map[string]model.InstanceId {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.innerOutputs
}

func (p *Proxy) snapshotExternal() map[string]model.InstanceId {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.externalOutputs
}

// pump reads events arriving on `from` and forwards them to the target
// resolved by the matching alias table, writing through `to`.
func (p *Proxy) pump(ctx context.Context, from, to *Handle, aliases func() map[string]model.InstanceId) {
	for {
		ev, ok := from.ReceiveNext(ctx)
		if !ok {
			return
		}
		// The proxy has no symbolic alias of its own on the wire; it
		// forwards using the immediate source's namespace as the alias
		// key, matching the "channel name" the upstream patch targeted.
		target, known := aliases()[ev.Source.ComponentId.String()]
		if !known {
			p.log.Warn("proxy: no route for source", "source", ev.Source)
			continue
		}
		switch ev.Kind {
		case model.KindCast:
			to.Send(ctx, target, ev.Payload, ev.Metadata)
		case model.KindCall:
			ret, err := to.Call(ctx, target, ev.Payload)
			if err != nil {
				ret = Err(err.Error())
			}
			from.Reply(ctx, ev.Source, ev.StreamId, ret)
		}
	}
}

// Close stops the proxy's forwarding loops.
func (p *Proxy) Close() {
	p.cancel()
	<-p.done
	p.inner.Close()
	p.external.Close()
}
