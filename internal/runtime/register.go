package runtime

import (
	"sync"

	"edgeless/internal/model"
)

// HostRegister is a map of instance id -> GuestAPIHost behind one mutex,
// entries added on instance start and removed on instance exit only
// (spec.md §5 "Shared-resource policy"). WASM runtimes register a host
// here before instantiation so their guest bindings can call back in;
// native runtimes set NeedsToRegister to false and resolve hosts by
// lookup at call time instead (spec.md §4.5 "Runtime registration").
type HostRegister struct {
	needsToRegister bool

	mu    sync.Mutex
	hosts map[model.InstanceId]GuestAPIHost
}

// NewHostRegister creates a register. needsToRegister should be true for
// runtimes whose sandbox bindings call back into the host out-of-band
// (WASM engines); false for native code that resolves hosts directly.
func NewHostRegister(needsToRegister bool) *HostRegister {
	return &HostRegister{
		needsToRegister: needsToRegister,
		hosts:           make(map[model.InstanceId]GuestAPIHost),
	}
}

func (r *HostRegister) NeedsToRegister() bool { return r.needsToRegister }

// RegisterGuestAPIHost adds a host entry for id.
func (r *HostRegister) RegisterGuestAPIHost(id model.InstanceId, host GuestAPIHost) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[id] = host
}

// DeregisterGuestAPIHost removes id's entry. Called on instance exit only.
func (r *HostRegister) DeregisterGuestAPIHost(id model.InstanceId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, id)
}

// Lookup resolves id's host, for runtimes that don't pre-register.
func (r *HostRegister) Lookup(id model.InstanceId) (GuestAPIHost, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[id]
	return h, ok
}

// Count reports the number of currently-registered hosts.
func (r *HostRegister) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}
