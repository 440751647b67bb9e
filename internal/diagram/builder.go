package diagram

import (
	"fmt"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// Build constructs a DiagramModel from a flow. When run is non-nil its
// executed steps are overlaid on the nodes; the last step of a failed run
// is marked failed.
func Build(flow *schema.Flow, run *schema.ExecutionResult) (*DiagramModel, error) {
	if flow == nil {
		return nil, fmt.Errorf("diagram: flow is nil")
	}

	idx := flow.NodeIndex()
	nodes := make([]*Node, 0, len(flow.Nodes))
	byID := make(map[string]*Node, len(flow.Nodes))
	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		if _, dup := byID[n.ID]; dup {
			continue
		}
		dn := &Node{ID: n.ID, Label: nodeLabel(n), Kind: NodeKind(n.Kind)}
		nodes = append(nodes, dn)
		byID[n.ID] = dn
	}

	var edges []Edge
	for _, e := range flow.Edges {
		if _, ok := idx[e.Source]; !ok {
			continue
		}
		if _, ok := idx[e.Target]; !ok {
			continue
		}
		edges = append(edges, Edge{From: e.Source, To: e.Target, Label: e.SourceHandle})
	}

	if run != nil {
		overlayRun(byID, run)
	}

	return &DiagramModel{
		Title:  titleFor(flow),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(flow, nodes),
	}, nil
}

// nodeLabel creates a human-readable label: the node's own label, then a
// kind-specific detail on the second line.
func nodeLabel(n *schema.Node) string {
	label, _ := n.Data["label"].(string)
	if label == "" {
		label = n.ID
	}
	p, err := n.Payload()
	if err != nil {
		return label
	}
	var detail string
	switch p := p.(type) {
	case schema.TriggerPayload:
		detail = p.Cron
	case schema.ConditionPayload:
		detail = fmt.Sprintf("%s %s %v", p.Field, p.Operator, p.Value)
	case schema.ActionPayload:
		detail = p.ActionType
	case schema.DecisionPayload:
		detail = p.Question
	}
	if detail == "" || detail == label {
		return label
	}
	return label + "\n" + detail
}

func overlayRun(byID map[string]*Node, run *schema.ExecutionResult) {
	for i, id := range run.StepsExecuted {
		if n, ok := byID[id]; ok {
			n.Status = &StatusOverlay{Status: StatusVisited, Order: i + 1}
		}
	}
	if run.Status != schema.StatusFailed || len(run.StepsExecuted) == 0 {
		return
	}
	last := run.StepsExecuted[len(run.StepsExecuted)-1]
	if n, ok := byID[last]; ok {
		n.Status.Status = StatusFailed
		n.Status.Error = run.Error
	}
}

// buildLevels assigns each node its breadth-first depth from the first
// trigger node, following every edge.
func buildLevels(flow *schema.Flow, nodes []*Node) [][]string {
	depth := make(map[string]int, len(nodes))
	var levels [][]string
	if trig, ok := flow.TriggerNode(); ok {
		out := flow.Outgoing()
		depth[trig.ID] = 0
		levels = append(levels, []string{trig.ID})
		queue := []string{trig.ID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, e := range out[id] {
				if _, seen := depth[e.Target]; seen {
					continue
				}
				if !hasNode(nodes, e.Target) {
					continue
				}
				d := depth[id] + 1
				depth[e.Target] = d
				if d == len(levels) {
					levels = append(levels, nil)
				}
				levels[d] = append(levels[d], e.Target)
				queue = append(queue, e.Target)
			}
		}
	}

	var orphans []string
	for _, n := range nodes {
		if _, ok := depth[n.ID]; !ok {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

func hasNode(nodes []*Node, id string) bool {
	return findNode(nodes, id) != nil
}

func titleFor(flow *schema.Flow) string {
	if flow.Name != "" {
		return flow.Name
	}
	if flow.ID != "" {
		return flow.ID
	}
	return "Flow"
}
