// Package orchestrator implements the EDGELESS orchestrator (spec.md
// §4.1): placement, the instance table, agent RPC fan-out and
// reconciliation on node churn.
package orchestrator

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/cel-go/cel"

	"edgeless/internal/model"
)

// isNodeFeasible implements the structural + CEL feasibility predicate
// (spec.md §4.1 "is_node_feasible"), grounded on
// original_source/edgeless_orc/src/proxy.rs's constraint evaluation.
func isNodeFeasible(class model.FunctionClass, req model.DeploymentRequirements, node model.NodeDescriptor) (bool, error) {
	if class.ClassType == model.ClassTypeWasm || class.ClassType == model.ClassTypeRust {
		if !node.Capabilities.HasRuntime("WASM") && !node.Capabilities.HasRuntime(string(class.ClassType)) {
			return false, nil
		}
	}
	if class.ClassType == model.ClassTypeNative && !node.Capabilities.HasRuntime("NATIVE") {
		return false, nil
	}

	if len(req.ResourceMatchAll) > 0 {
		for _, want := range req.ResourceMatchAll {
			found := false
			for _, rp := range node.ResourceProviders {
				if rp.ClassType == want {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
	}

	if !node.Capabilities.HasAllLabels(req.LabelMatchAll) {
		return false, nil
	}

	if len(req.NodeIdMatchAny) > 0 {
		allowed := false
		for _, n := range req.NodeIdMatchAny {
			if n == node.NodeId {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
	}

	if req.TeeRequired && node.Capabilities.NumTEE == 0 {
		return false, nil
	}
	if req.TpmRequired && node.Capabilities.NumTPM == 0 {
		return false, nil
	}

	if req.CELPredicate != "" {
		ok, err := evalCELPredicate(req.CELPredicate, node)
		if err != nil {
			return false, fmt.Errorf("placement: CEL predicate: %w", err)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// evalCELPredicate evaluates req against a node's advertised capabilities,
// exposing num_cpus, num_cores, mem_size, labels, num_gpus, num_tee as CEL
// variables (SPEC_FULL.md "Domain stack: google/cel-go").
func evalCELPredicate(expr string, node model.NodeDescriptor) (bool, error) {
	env, err := cel.NewEnv(
		cel.Variable("num_cpus", cel.IntType),
		cel.Variable("num_cores", cel.IntType),
		cel.Variable("mem_size", cel.IntType),
		cel.Variable("num_gpus", cel.IntType),
		cel.Variable("num_tee", cel.IntType),
		cel.Variable("labels", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return false, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"num_cpus":  int64(node.Capabilities.NumCPUs),
		"num_cores": int64(node.Capabilities.NumCores),
		"mem_size":  node.Capabilities.MemSize,
		"num_gpus":  int64(node.Capabilities.NumGPUs),
		"num_tee":   int64(node.Capabilities.NumTEE),
		"labels":    node.Capabilities.Labels,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("placement: CEL predicate did not evaluate to bool, got %v", out.Type())
	}
	return b, nil
}

// feasibleNodes returns the subset of candidates that pass
// isNodeFeasible, in stable NodeId order for deterministic tests.
func feasibleNodes(class model.FunctionClass, req model.DeploymentRequirements, candidates []model.NodeDescriptor) ([]model.NodeDescriptor, error) {
	var out []model.NodeDescriptor
	for _, n := range candidates {
		ok, err := isNodeFeasible(class, req, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeId.String() < out[j].NodeId.String() })
	return out, nil
}

// selectNode picks the least-loaded feasible node (lowest CPU usage,
// falling back to the first candidate when health is unknown; a node with
// stale health is picked only when no other candidate remains), matching
// original_source/edgeless_orc/src/orchestrator.rs's "best effort" metric
// strategy without requiring a full scheduler.
func selectNode(candidates []model.NodeDescriptor, exclude map[model.NodeId]bool) (model.NodeDescriptor, bool) {
	var best model.NodeDescriptor
	found := false
	bestLoad := math.MaxInt
	for _, n := range candidates {
		if exclude[n.NodeId] {
			continue
		}
		load := 0
		if n.Health != nil {
			load = int(n.Health.CPUUsagePercent)
			if n.Health.Stale {
				load = math.MaxInt
			}
		}
		if !found || load < bestLoad {
			best = n
			bestLoad = load
			found = true
		}
	}
	return best, found
}
