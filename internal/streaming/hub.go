package streaming

import (
	"context"
	"time"
)

// RunEvent is emitted by the executor as a flow run progresses.
type RunEvent struct {
	Type      string    `json:"type"`
	FlowID    string    `json:"flow_id"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	DocID     string    `json:"doc_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// RunFilter selects the events a subscriber receives. Zero fields match everything.
type RunFilter struct {
	FlowID string   `json:"flow_id,omitempty"`
	RunID  string   `json:"run_id,omitempty"`
	Types  []string `json:"types,omitempty"`
}

// Hub is pub/sub for run events.
type Hub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter RunFilter) (<-chan RunEvent, func(), error)
}
