// Package echo implements a trivial resource provider: a function that
// casts every payload it receives straight back to its "out" output
// (spec.md §4.1 DeploymentRequirements.ResourceMatchAll; SPEC_FULL.md
// "Supplemented features: resource-provider contract"). It exists to
// give ResourceProviderDescriptor and ResourceMatchAll a concrete,
// runnable example the way the teacher's cmd/runner gave the workflow
// engine one.
package echo

import (
	"context"

	"edgeless/internal/dataplane"
	"edgeless/internal/model"
	"edgeless/internal/runtime"
	"edgeless/internal/runtime/native"
)

// ClassId is the well-known FunctionClass.ClassId resource-provider
// descriptors advertise for this provider.
const ClassId = "builtin.echo"

// Descriptor is the ResourceProviderDescriptor a node advertises to
// make this provider feasible as a ResourceMatchAll target.
var Descriptor = model.ResourceProviderDescriptor{
	ProviderId: "echo-1",
	ClassType:  ClassId,
	Outputs:    []string{"out"},
}

// Register installs the echo provider's handlers into reg under ClassId.
func Register(reg *native.Registry) {
	reg.Register(ClassId, native.Handlers{
		HandleCast: func(ctx context.Context, host runtime.GuestAPIHost, src model.InstanceId, portId string, payload []byte) error {
			return host.Cast(ctx, "out", payload)
		},
		HandleCall: func(ctx context.Context, host runtime.GuestAPIHost, src model.InstanceId, portId string, payload []byte) (dataplane.CallRet, error) {
			return dataplane.Reply(payload), nil
		},
	})
}
