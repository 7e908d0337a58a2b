package models

import "time"

// RunState is the lifecycle state of one execution run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateSuspended RunState = "suspended"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Trace entry outcomes.
const (
	OutcomeNext      = "next"
	OutcomeTrue      = "true"
	OutcomeFalse     = "false"
	OutcomeEscalated = "escalated"
	OutcomeDelayed   = "delayed"
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
)

// TraceEntry records one node visited during a run.
type TraceEntry struct {
	NodeID    string         `json:"nodeId"`
	NodeType  NodeType       `json:"nodeType"`
	EnteredAt time.Time      `json:"enteredAt"`
	ExitedAt  time.Time      `json:"exitedAt"`
	Outcome   string         `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Execution is the persisted record of a finished run.
type Execution struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflow_id,omitempty"`
	TicketID   string       `json:"ticket_id,omitempty"`
	State      RunState     `json:"state"`
	Trace      []TraceEntry `json:"trace"`
	// Context is the run context: inputs plus node outputs.
	Context    map[string]any `json:"context,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}
