package schema

import "time"

// Entity is a typed value extracted from a document's text.
type Entity struct {
	Type       string         `json:"type"`
	Value      string         `json:"value"`
	Confidence float64        `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionContext is the working state threaded through one flow run.
// A context is owned by exactly one run; callers hand each run its own Clone.
type ExecutionContext struct {
	DocID    string         `json:"doc_id,omitempty"`
	FilePath string         `json:"file_path,omitempty"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Entities []Entity       `json:"entities,omitempty"`
	// Outputs holds decision labels and raw LLM responses keyed by node ID.
	Outputs map[string]any `json:"outputs,omitempty"`
}

// NewScheduledContext builds the context for a cron-fired run.
func NewScheduledContext(flowID string, at time.Time) *ExecutionContext {
	return &ExecutionContext{
		DocID: "scheduled-" + at.UTC().Format("20060102T1504Z"),
		Metadata: map[string]any{
			"flow_id":      flowID,
			"triggered_at": at.UTC().Format(time.RFC3339),
			"trigger":      string(TriggerSchedule),
		},
	}
}

// Clone returns a deep copy of the context.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return &ExecutionContext{}
	}
	cp := &ExecutionContext{
		DocID:    c.DocID,
		FilePath: c.FilePath,
		Text:     c.Text,
		Metadata: cloneMap(c.Metadata),
		Tags:     append([]string(nil), c.Tags...),
		Outputs:  cloneMap(c.Outputs),
	}
	if c.Entities != nil {
		cp.Entities = make([]Entity, len(c.Entities))
		for i, e := range c.Entities {
			cp.Entities[i] = e
			cp.Entities[i].Metadata = cloneMap(e.Metadata)
		}
	}
	return cp
}

// HasTag reports whether tag is present.
func (c *ExecutionContext) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag unless already present. Returns true if added.
func (c *ExecutionContext) AddTag(tag string) bool {
	if tag == "" || c.HasTag(tag) {
		return false
	}
	c.Tags = append(c.Tags, tag)
	return true
}

// RemoveTag removes every occurrence of tag. Returns true if anything was removed.
func (c *ExecutionContext) RemoveTag(tag string) bool {
	kept := c.Tags[:0]
	removed := false
	for _, t := range c.Tags {
		if t == tag {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	c.Tags = kept
	return removed
}

// TextExcerpt returns at most n runes of the document text.
func (c *ExecutionContext) TextExcerpt(n int) string {
	if len(c.Text) <= n {
		return c.Text
	}
	i := 0
	for pos := range c.Text {
		if i == n {
			return c.Text[:pos]
		}
		i++
	}
	return c.Text
}

// SetOutput records a node's output.
func (c *ExecutionContext) SetOutput(nodeID string, v any) {
	if c.Outputs == nil {
		c.Outputs = make(map[string]any)
	}
	c.Outputs[nodeID] = v
}

// AsMap returns the structured representation used for field resolution
// and expression evaluation. Lists are exposed as []any.
func (c *ExecutionContext) AsMap() map[string]any {
	tags := make([]any, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = t
	}
	entities := make([]any, len(c.Entities))
	for i, e := range c.Entities {
		m := map[string]any{
			"type":       e.Type,
			"value":      e.Value,
			"confidence": e.Confidence,
		}
		if e.Metadata != nil {
			m["metadata"] = e.Metadata
		}
		entities[i] = m
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	return map[string]any{
		"doc_id":    c.DocID,
		"file_path": c.FilePath,
		"text":      c.Text,
		"metadata":  metadata,
		"tags":      tags,
		"entities":  entities,
		"outputs":   outputs,
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
