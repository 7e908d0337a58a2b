// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/validation"
)

// GraphPayload carries graph_json. Clients may send it as an embedded JSON
// object or as a JSON-encoded string.
type GraphPayload string

func (g *GraphPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*g = ""
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}

		*g = GraphPayload(s)
	default:
		*g = GraphPayload(trimmed)
	}

	return nil
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name      string       `json:"name"       validate:"required,min=1,max=255"`
	GraphJSON GraphPayload `json:"graph_json" validate:"required"`
}

// UpdateWorkflowRequest replaces the name and graph of a workflow.
type UpdateWorkflowRequest struct {
	Name      string       `json:"name"       validate:"required,min=1,max=255"`
	GraphJSON GraphPayload `json:"graph_json" validate:"required"`
}

type ValidateWorkflowRequest struct {
	GraphJSON GraphPayload `json:"graph_json" validate:"required"`
}

// ExecuteWorkflowRequest runs an unsaved graph. With Async set the call
// returns as soon as the run has started. Inputs seed the run context.
type ExecuteWorkflowRequest struct {
	GraphJSON GraphPayload   `json:"graph_json" validate:"required"`
	Ticket    *models.Ticket `json:"ticket,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Async     bool           `json:"async,omitempty"`
}

// ExecuteStoredWorkflowRequest runs a saved workflow.
type ExecuteStoredWorkflowRequest struct {
	Ticket *models.Ticket `json:"ticket,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
	Async  bool           `json:"async,omitempty"`
}

type ValidationResponse struct {
	Valid    bool             `json:"valid"`
	Findings []models.Finding `json:"findings"`
}

// NewValidationResponse reports valid when no finding is an error.
func NewValidationResponse(findings []models.Finding) ValidationResponse {
	return ValidationResponse{
		Valid:    !validation.HasErrors(findings),
		Findings: findings,
	}
}

// ExecutionResponse is the run record returned by execute and lookup endpoints.
type ExecutionResponse struct {
	ExecutionID string              `json:"execution_id"`
	WorkflowID  string              `json:"workflow_id,omitempty"`
	TicketID    string              `json:"ticket_id,omitempty"`
	FinalState  models.RunState     `json:"finalState"`
	Trace       []models.TraceEntry `json:"trace"`
	Context     map[string]any      `json:"context"`
	Output      map[string]any      `json:"output,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

func TransformExecution(execution *models.Execution) ExecutionResponse {
	response := ExecutionResponse{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		TicketID:    execution.TicketID,
		FinalState:  execution.State,
		Trace:       execution.Trace,
		Context:     execution.Context,
		Output:      execution.Output,
		Error:       execution.Error,
		StartedAt:   execution.StartedAt,
	}

	if response.Trace == nil {
		response.Trace = []models.TraceEntry{}
	}

	if response.Context == nil {
		response.Context = map[string]any{}
	}

	if !execution.FinishedAt.IsZero() {
		finishedAt := execution.FinishedAt
		response.FinishedAt = &finishedAt
	}

	return response
}

func TransformResult(res *engine.Result) ExecutionResponse {
	execution := res.Execution()

	return TransformExecution(&execution)
}
