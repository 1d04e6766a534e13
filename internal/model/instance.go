package model

// InstanceRecord is the orchestrator's authoritative record for one logical
// component: the active physical instance, its standbys, the class it
// runs, its placement requirements and the current output patch.
type InstanceRecord struct {
	Lid          LogicalId
	Active       InstanceId
	Standby      []InstanceId
	Class        FunctionClass
	Requirements DeploymentRequirements
	Annotations  map[string]string
	Replication  int
	// Patch is the latest {channel_name -> target LogicalId} wiring.
	Patch map[string]LogicalId
	// Degraded is true when live replica count < Replication.
	Degraded bool
}

func (r *InstanceRecord) LiveReplicaCount() int {
	count := 0
	if !r.Active.IsNil() {
		count++
	}
	count += len(r.Standby)
	return count
}

// HostedOn reports whether any replica (active or standby) of r is hosted
// on node n, and if so which InstanceId and whether it was active.
func (r *InstanceRecord) HostedOn(n NodeId) (InstanceId, bool, bool) {
	if r.Active.NodeId == n && !r.Active.IsNil() {
		return r.Active, true, true
	}
	for _, s := range r.Standby {
		if s.NodeId == n {
			return s, false, true
		}
	}
	return InstanceId{}, false, false
}

// RemoveReplicaOn removes any replica hosted on n, returning whether the
// active replica was removed.
func (r *InstanceRecord) RemoveReplicaOn(n NodeId) (wasActive bool) {
	if r.Active.NodeId == n && !r.Active.IsNil() {
		r.Active = InstanceId{}
		return true
	}
	kept := r.Standby[:0]
	for _, s := range r.Standby {
		if s.NodeId != n {
			kept = append(kept, s)
		}
	}
	r.Standby = kept
	return false
}

// PromoteStandby deterministically promotes the first standby (by
// InstanceId.ComponentId) to active, returning it. Returns false if there
// is no standby to promote.
func (r *InstanceRecord) PromoteStandby() (InstanceId, bool) {
	if len(r.Standby) == 0 {
		return InstanceId{}, false
	}
	best := 0
	for i := 1; i < len(r.Standby); i++ {
		if r.Standby[i].ComponentId.String() < r.Standby[best].ComponentId.String() {
			best = i
		}
	}
	promoted := r.Standby[best]
	r.Standby = append(r.Standby[:best], r.Standby[best+1:]...)
	r.Active = promoted
	return promoted, true
}
