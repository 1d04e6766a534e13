package model

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DeploymentRequirements are derived from a SpawnRequest's annotations and
// constrain which nodes are feasible placement targets (spec.md §3, §4.1).
type DeploymentRequirements struct {
	// MaxInstances caps concurrent live replicas of this logical component;
	// 0 means unlimited.
	MaxInstances int
	// NodeIdMatchAny restricts candidate nodes to this set. Empty = any node.
	NodeIdMatchAny []NodeId
	// LabelMatchAll: node capabilities' label set must be a superset.
	LabelMatchAll []string
	// ResourceMatchAll: required resource-provider class types that must be
	// co-resident on the candidate node.
	ResourceMatchAll []string
	TeeRequired      bool
	TpmRequired      bool
	// CELPredicate is an optional CEL boolean expression evaluated against
	// the candidate node's capabilities, in addition to the structural
	// checks above (see internal/orchestrator/placement.go).
	CELPredicate string
}

// ParseDeploymentRequirements extracts requirements from a SpawnRequest's
// annotation map. List-valued keys (label_match_all, resource_match_all,
// node_id_match_any) are comma-separated. Unknown annotation keys are
// ignored (forward compatible).
func ParseDeploymentRequirements(annotations map[string]string) DeploymentRequirements {
	var req DeploymentRequirements
	if v, ok := annotations["max_instances"]; ok {
		req.MaxInstances, _ = strconv.Atoi(v)
	}
	if v := annotations["label_match_all"]; v != "" {
		req.LabelMatchAll = strings.Split(v, ",")
	}
	if v := annotations["resource_match_all"]; v != "" {
		req.ResourceMatchAll = strings.Split(v, ",")
	}
	for _, s := range strings.Split(annotations["node_id_match_any"], ",") {
		if id, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
			req.NodeIdMatchAny = append(req.NodeIdMatchAny, NodeId(id))
		}
	}
	if v, ok := annotations["tee_required"]; ok && v == "true" {
		req.TeeRequired = true
	}
	if v, ok := annotations["tpm_required"]; ok && v == "true" {
		req.TpmRequired = true
	}
	if v, ok := annotations["cel_predicate"]; ok {
		req.CELPredicate = v
	}
	return req
}

// NodeCapabilities describes what a node offers, consulted by the placement
// algorithm.
type NodeCapabilities struct {
	NumCPUs    int
	NumCores   int
	MemSize    int64
	Labels     []string
	Runtimes   []string
	Disk       int64
	NumGPUs    int
	MemSizeGPU int64
	NumTEE     int
	NumTPM     int
}

func (c NodeCapabilities) hasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// HasAllLabels reports whether every label in labels is present in c.
func (c NodeCapabilities) HasAllLabels(labels []string) bool {
	for _, l := range labels {
		if !c.hasLabel(l) {
			return false
		}
	}
	return true
}

// HasRuntime reports whether the node advertises the given runtime.
func (c NodeCapabilities) HasRuntime(runtime string) bool {
	for _, r := range c.Runtimes {
		if r == runtime {
			return true
		}
	}
	return false
}

// ResourceProviderDescriptor is a resource provider advertised by a node.
type ResourceProviderDescriptor struct {
	ProviderId string
	ClassType  string
	Outputs    []string
}

// NodeHealth is a soft signal used only for tie-breaking (SPEC_FULL.md
// "Node health aggregation").
type NodeHealth struct {
	CPUUsagePercent float64
	MemUsagePercent float64
	Stale           bool
}

// NodeDescriptor is the orchestrator's view of a registered node.
type NodeDescriptor struct {
	NodeId           NodeId
	AgentUrl         string
	InvocationUrl    string
	Capabilities     NodeCapabilities
	ResourceProviders map[string]ResourceProviderDescriptor // providerId -> descriptor
	Health           *NodeHealth
}
