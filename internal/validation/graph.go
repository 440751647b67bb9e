package validation

import (
	"fmt"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Condition branch handles.
const (
	handleTrue  = "true"
	handleFalse = "false"
)

// validateGraph reports authoring mistakes that leave parts of a flow
// unreachable at run time. Every finding is a warning.
func validateGraph(flow *schema.Flow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	var triggers []string
	for _, n := range flow.Nodes {
		if n.Kind == schema.NodeTrigger {
			triggers = append(triggers, n.ID)
		}
	}
	switch {
	case len(triggers) == 0:
		result.AddWarning("nodes", schema.ErrCodeNoTriggerNode, "flow has no trigger node; every run will fail")
	case len(triggers) > 1:
		result.AddWarning("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("flow has %d trigger nodes; only %q starts runs", len(triggers), triggers[0]))
	}

	idx := flow.NodeIndex()
	out := flow.Outgoing()

	if len(triggers) > 0 {
		reached := reachable(triggers[0], out, idx)
		for i, n := range flow.Nodes {
			if !reached[n.ID] {
				result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
					fmt.Sprintf("node %q is unreachable from the trigger", n.ID))
			}
		}
	}

	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		branches := branchHandles(n)
		if branches == nil {
			continue
		}
		path := fmt.Sprintf("nodes[%d]", i)
		covered := make(map[string]bool, len(branches))
		for j, e := range flow.Edges {
			if e.Source != n.ID {
				continue
			}
			h := schema.HandleKey(n.Kind, e.SourceHandle)
			if _, ok := branches[h]; !ok {
				result.AddWarning(fmt.Sprintf("edges[%d].sourceHandle", j), schema.ErrCodeValidation,
					fmt.Sprintf("handle %q on %s node %q matches no branch and is never followed", e.SourceHandle, n.Kind, n.ID))
				continue
			}
			covered[h] = true
		}
		for _, h := range orderedBranches(n) {
			if !covered[schema.HandleKey(n.Kind, h)] {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("%s node %q has no edge for branch %q; runs end there when it is taken", n.Kind, n.ID, h))
			}
		}
	}
	return result
}

// reachable returns the node IDs reachable from start over edges the
// executor can follow: the target exists and, for branching nodes, the
// handle names a branch.
func reachable(start string, out map[string][]schema.Edge, idx map[string]*schema.Node) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		var branches map[string]struct{}
		var kind schema.NodeKind
		if n, ok := idx[id]; ok {
			branches = branchHandles(n)
			kind = n.Kind
		}
		for _, e := range out[id] {
			if _, ok := idx[e.Target]; !ok || seen[e.Target] {
				continue
			}
			if branches != nil {
				if _, ok := branches[schema.HandleKey(kind, e.SourceHandle)]; !ok {
					continue
				}
			}
			seen[e.Target] = true
			queue = append(queue, e.Target)
		}
	}
	return seen
}

// branchHandles returns the handle keys a branching node follows,
// or nil for nodes whose outgoing edges are unconditional.
func branchHandles(n *schema.Node) map[string]struct{} {
	hs := orderedBranches(n)
	if hs == nil {
		return nil
	}
	set := make(map[string]struct{}, len(hs))
	for _, h := range hs {
		set[schema.HandleKey(n.Kind, h)] = struct{}{}
	}
	return set
}

func orderedBranches(n *schema.Node) []string {
	switch n.Kind {
	case schema.NodeCondition:
		return []string{handleTrue, handleFalse}
	case schema.NodeLLMDecision:
		p, err := n.Payload()
		if err != nil {
			return nil
		}
		return p.(schema.DecisionPayload).Options
	}
	return nil
}
