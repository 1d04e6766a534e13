package model

// ClassType distinguishes the sandbox technology a FunctionClass targets.
type ClassType string

const (
	ClassTypeWasm   ClassType = "RUST_WASM"
	ClassTypeNative ClassType = "NATIVE"
	ClassTypeRust   ClassType = "RUST"
)

// FunctionClass describes the code a spawned instance runs.
type FunctionClass struct {
	ClassId   string
	ClassType ClassType
	Version   string
	// CodeBlob is opaque bytes: a WASM module, or a native marker understood
	// by the node's native runner.
	CodeBlob []byte
	// Outputs lists the symbolic output channel names the code may emit to.
	Outputs []string
}

// SpawnRequest asks the orchestrator to place a new logical component.
type SpawnRequest struct {
	// Lid is optional: a caller may pre-assign a logical id (e.g. when
	// re-spawning a degraded component during reconciliation).
	Lid               *LogicalId
	ClassSpec         FunctionClass
	Annotations       map[string]string
	ReplicationFactor int // 0/1 => no redundancy
}

// InitPayload returns the annotation-carried init payload, if present.
func (r SpawnRequest) InitPayload() (string, bool) {
	v, ok := r.Annotations["init-payload"]
	return v, ok
}

func (r SpawnRequest) effectiveReplicationFactor() int {
	if r.ReplicationFactor <= 0 {
		return 1
	}
	return r.ReplicationFactor
}

// EffectiveReplicationFactor normalizes ReplicationFactor per spec.md §8:
// "replicationFactor = 1 behaves identically to no redundancy."
func (r SpawnRequest) EffectiveReplicationFactor() int {
	return r.effectiveReplicationFactor()
}
