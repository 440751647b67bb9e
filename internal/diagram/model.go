package diagram

// NodeKind classifies a diagram node by its flow node kind.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindDecision  NodeKind = "llm_decision"
)

// Run overlay statuses.
const (
	StatusVisited = "visited"
	StatusFailed  = "failed"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
	// Levels groups node IDs by breadth-first depth from the trigger.
	// Nodes the trigger cannot reach form the last level.
	Levels [][]string
}

// Node represents a single flow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the state of a node in one run.
type StatusOverlay struct {
	Status string
	Order  int // 1-based visit position
	Error  string
}

// Edge connects two nodes; Label is the source handle.
type Edge struct {
	From  string
	To    string
	Label string
}
