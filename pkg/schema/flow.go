package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TriggerKind is the category of event (or schedule) that starts a flow.
type TriggerKind string

const (
	TriggerOnImport          TriggerKind = "on_import"
	TriggerOnTagAdded        TriggerKind = "on_tag_added"
	TriggerOnEntityExtracted TriggerKind = "on_entity_extracted"
	TriggerOnOCRComplete     TriggerKind = "on_ocr_complete"
	TriggerSchedule          TriggerKind = "schedule"
	TriggerManual            TriggerKind = "manual"
)

// TriggerKinds lists every recognized trigger kind.
var TriggerKinds = []TriggerKind{
	TriggerOnImport,
	TriggerOnTagAdded,
	TriggerOnEntityExtracted,
	TriggerOnOCRComplete,
	TriggerSchedule,
	TriggerManual,
}

// ParseTriggerKind validates s against the known trigger kinds.
func ParseTriggerKind(s string) (TriggerKind, error) {
	for _, k := range TriggerKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", NewErrorf(ErrCodeValidation, "unknown trigger kind %q", s)
}

// NodeKind enumerates the kinds of nodes in a flow graph.
type NodeKind string

const (
	NodeTrigger     NodeKind = "trigger"
	NodeCondition   NodeKind = "condition"
	NodeAction      NodeKind = "action"
	NodeLLMDecision NodeKind = "llm_decision"
)

// Flow is a stored, named graph of nodes and edges bound to one trigger kind.
type Flow struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	Trigger     TriggerKind `json:"trigger"`
	Nodes       []Node      `json:"nodes"`
	Edges       []Edge      `json:"edges"`
	CreatedAt   time.Time   `json:"created_at"`
}

// UnmarshalJSON defaults Active to true when the field is absent.
func (f *Flow) UnmarshalJSON(data []byte) error {
	type alias Flow
	a := alias{Active: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = Flow(a)
	return nil
}

// Node is a vertex of a flow graph. Data is an open key/value payload whose
// recognized keys depend on Kind; use Payload to decode it.
type Node struct {
	ID       string             `json:"id"`
	Kind     NodeKind           `json:"type"`
	Data     map[string]any     `json:"data"`
	Position map[string]float64 `json:"position,omitempty"`
}

// Edge connects two nodes. Handles disambiguate condition and decision branches;
// an edge without a source handle is an unconditional continuation.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// TriggerNode returns the first TRIGGER node in declaration order.
func (f *Flow) TriggerNode() (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].Kind == NodeTrigger {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// NodeIndex maps node IDs to nodes. Later duplicates shadow earlier ones.
func (f *Flow) NodeIndex() map[string]*Node {
	idx := make(map[string]*Node, len(f.Nodes))
	for i := range f.Nodes {
		idx[f.Nodes[i].ID] = &f.Nodes[i]
	}
	return idx
}

// Outgoing groups edges by source node ID, preserving declaration order.
func (f *Flow) Outgoing() map[string][]Edge {
	out := make(map[string][]Edge, len(f.Nodes))
	for _, e := range f.Edges {
		out[e.Source] = append(out[e.Source], e)
	}
	return out
}

// Clone returns a deep copy of the flow.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Nodes = make([]Node, len(f.Nodes))
	for i, n := range f.Nodes {
		cp.Nodes[i] = Node{
			ID:   n.ID,
			Kind: n.Kind,
			Data: cloneMap(n.Data),
		}
		if n.Position != nil {
			cp.Nodes[i].Position = make(map[string]float64, len(n.Position))
			for k, v := range n.Position {
				cp.Nodes[i].Position[k] = v
			}
		}
	}
	cp.Edges = append([]Edge(nil), f.Edges...)
	return &cp
}

// --- Typed payloads ---

// Payload is the kind-specific view of a node's Data.
type Payload interface {
	Kind() NodeKind
}

// TriggerPayload is the payload of a TRIGGER node.
type TriggerPayload struct {
	Label string `json:"label,omitempty"`
	Cron  string `json:"cron,omitempty"`
}

// ConditionPayload is the payload of a CONDITION node.
type ConditionPayload struct {
	Label    string `json:"label,omitempty"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ActionPayload is the payload of an ACTION node. Params holds the full data
// map so type-specific keys stay addressable by name.
type ActionPayload struct {
	Label      string
	ActionType string
	Params     map[string]any
}

// DecisionPayload is the payload of an LLM_DECISION node.
type DecisionPayload struct {
	Label    string   `json:"label,omitempty"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (TriggerPayload) Kind() NodeKind   { return NodeTrigger }
func (ConditionPayload) Kind() NodeKind { return NodeCondition }
func (ActionPayload) Kind() NodeKind    { return NodeAction }
func (DecisionPayload) Kind() NodeKind  { return NodeLLMDecision }

// Payload decodes the node's Data into the variant matching its Kind.
func (n *Node) Payload() (Payload, error) {
	switch n.Kind {
	case NodeTrigger:
		var p TriggerPayload
		p.Label, _ = n.Data["label"].(string)
		p.Cron, _ = n.Data["cron"].(string)
		return p, nil

	case NodeCondition:
		var p ConditionPayload
		p.Label, _ = n.Data["label"].(string)
		p.Field, _ = n.Data["field"].(string)
		p.Operator, _ = n.Data["operator"].(string)
		p.Value = n.Data["value"]
		return p, nil

	case NodeAction:
		p := ActionPayload{Params: n.Data}
		if p.Params == nil {
			p.Params = map[string]any{}
		}
		p.Label, _ = n.Data["label"].(string)
		p.ActionType, _ = n.Data["action_type"].(string)
		return p, nil

	case NodeLLMDecision:
		var p DecisionPayload
		p.Label, _ = n.Data["label"].(string)
		p.Question, _ = n.Data["question"].(string)
		opts, err := decodeOptions(n.Data["options"])
		if err != nil {
			return nil, n.payloadError(err.Error())
		}
		if len(opts) == 0 {
			return nil, n.payloadError("at least one option is required")
		}
		p.Options = opts
		return p, nil

	default:
		return nil, NewErrorf(ErrCodeValidation, "unknown node kind %q", n.Kind).WithNode(n.ID)
	}
}

func (n *Node) payloadError(msg string) *FlowError {
	return NewErrorf(ErrCodeValidation, "%s payload: %s", n.Kind, msg).WithNode(n.ID)
}

// decodeOptions accepts a list of strings or of objects carrying a label/id.
func decodeOptions(v any) ([]string, error) {
	switch opts := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), opts...), nil
	case []any:
		out := make([]string, 0, len(opts))
		for i, o := range opts {
			switch ov := o.(type) {
			case string:
				out = append(out, ov)
			case map[string]any:
				label, _ := ov["label"].(string)
				if label == "" {
					label, _ = ov["id"].(string)
				}
				if label == "" {
					return nil, fmt.Errorf("options[%d] has no label", i)
				}
				out = append(out, label)
			default:
				return nil, fmt.Errorf("options[%d] must be a string", i)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("options must be a list")
	}
}

// NormalizeHandle lower-cases and trims an edge handle for comparison.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// HandleKey returns the form in which a handle on an edge leaving a node of
// kind k is compared with that node's branches. Decision handles ignore case
// and surrounding space; condition handles must be exactly "true" or "false".
func HandleKey(k NodeKind, h string) string {
	if k == NodeLLMDecision {
		return NormalizeHandle(h)
	}
	return h
}
