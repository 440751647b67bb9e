package schema

import "time"

// Event type constants for the run event stream.
const (
	EventRunStarted       = "run_started"
	EventNodeVisited      = "node_visited"
	EventRunSucceeded     = "run_succeeded"
	EventRunFailed        = "run_failed"
	EventRunRejected      = "run_rejected"
	EventActionFailed     = "action_failed"
	EventDecisionFallback = "decision_fallback"
)

// RunState is the lifecycle state of a flow run.
type RunState string

const (
	RunNotStarted RunState = "not_started"
	RunRunning    RunState = "running"
	RunSucceeded  RunState = "succeeded"
	RunFailed     RunState = "failed"
)

// RunStatus is the terminal status reported in an ExecutionResult.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// ExecutionResult is produced once per flow run.
type ExecutionResult struct {
	RunID         string      `json:"run_id"`
	FlowID        string      `json:"flow_id"`
	FlowName      string      `json:"flow_name,omitempty"`
	Trigger       TriggerKind `json:"trigger,omitempty"`
	DocID         string      `json:"doc_id,omitempty"`
	Status        RunStatus   `json:"status"`
	StepsExecuted []string    `json:"steps_executed"`
	Error         string      `json:"error,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
}
