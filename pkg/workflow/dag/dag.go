// Package dag builds and validates the dependency graph of a workflow,
// grounded in the reference executor's WorkflowDAG (originally backed by
// petgraph; no graph library is wired anywhere in the retrieval pack, so
// this is a hand-rolled adjacency-map implementation — see DESIGN.md).
package dag

import (
	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

// WorkflowDAG is the immutable, validated dependency graph of a workflow.
// It is safe for concurrent reads once constructed; it exposes no
// mutating operations.
type WorkflowDAG struct {
	stepIDs    []string
	dependsOn  map[string][]string // forward: step -> its dependencies
	dependents map[string][]string // reverse: step -> steps that depend on it
	exists     map[string]struct{}
}

// FromWorkflow builds a WorkflowDAG from a workflow, validating step id
// uniqueness, dependency resolution, and acyclicity.
func FromWorkflow(w *types.Workflow) (*WorkflowDAG, error) {
	d := &WorkflowDAG{
		dependsOn:  make(map[string][]string, len(w.Steps)),
		dependents: make(map[string][]string, len(w.Steps)),
		exists:     make(map[string]struct{}, len(w.Steps)),
	}

	for _, s := range w.Steps {
		if _, dup := d.exists[s.ID]; dup {
			return nil, apperrors.NewValidationError("duplicate step id: " + s.ID)
		}
		d.exists[s.ID] = struct{}{}
		d.stepIDs = append(d.stepIDs, s.ID)
	}

	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := d.exists[dep]; !ok {
				return nil, apperrors.NewStepNotFoundError(dep).WithDetails("referenced by " + s.ID)
			}
			d.dependsOn[s.ID] = append(d.dependsOn[s.ID], dep)
			d.dependents[dep] = append(d.dependents[dep], s.ID)
		}
	}

	order, err := topologicalOrder(d.stepIDs, d.dependsOn)
	if err != nil {
		return nil, err
	}
	d.stepIDs = order

	return d, nil
}

// topologicalOrder performs Kahn's algorithm over the dependency map,
// returning CyclicDependency if any step cannot be ordered.
func topologicalOrder(ids []string, dependsOn map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(dependsOn[id])
	}

	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	dependents := make(map[string][]string, len(ids))
	for id, deps := range dependsOn {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(ids) {
		return nil, apperrors.New(apperrors.ErrorTypeCyclicDependency, "workflow contains a cyclic dependency")
	}
	return order, nil
}

// ExecutionOrder returns a topological sort of the workflow's steps.
func (d *WorkflowDAG) ExecutionOrder() []string {
	out := make([]string, len(d.stepIDs))
	copy(out, d.stepIDs)
	return out
}

// RootNodes returns the step ids with no incoming dependency edges.
func (d *WorkflowDAG) RootNodes() []string {
	var roots []string
	for _, id := range d.stepIDs {
		if len(d.dependsOn[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Dependencies returns the direct predecessors of a step.
func (d *WorkflowDAG) Dependencies(stepID string) []string {
	return append([]string(nil), d.dependsOn[stepID]...)
}

// Dependents returns the direct successors of a step.
func (d *WorkflowDAG) Dependents(stepID string) []string {
	return append([]string(nil), d.dependents[stepID]...)
}

// StepCount returns the number of steps in the DAG.
func (d *WorkflowDAG) StepCount() int {
	return len(d.stepIDs)
}

// ContainsStep reports whether stepID was declared in the workflow.
func (d *WorkflowDAG) ContainsStep(stepID string) bool {
	_, ok := d.exists[stepID]
	return ok
}

// StepIDs returns every declared step id, in the same topological order
// ExecutionOrder returns.
func (d *WorkflowDAG) StepIDs() []string {
	out := make([]string, len(d.stepIDs))
	copy(out, d.stepIDs)
	return out
}

// Ready returns every step id not in completed whose every predecessor
// is present in completed. A pure query: it neither reads nor mutates
// any shared scheduler state.
func (d *WorkflowDAG) Ready(completed map[string]struct{}) []string {
	var ready []string
	for _, id := range d.stepIDs {
		if _, done := completed[id]; done {
			continue
		}
		if allSatisfied(d.dependsOn[id], completed) {
			ready = append(ready, id)
		}
	}
	return ready
}

func allSatisfied(deps []string, completed map[string]struct{}) bool {
	for _, dep := range deps {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}
