package engine

import (
	"context"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
)

// ActionIntent is an automated action requested by an action node.
type ActionIntent struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	NodeID     string         `json:"node_id"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target"`
	Message    string         `json:"message,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Ticket     models.Ticket  `json:"ticket"`
}

// ActionOutcome is what the dispatcher reports back for an intent.
type ActionOutcome struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	// Data is any structured result the action produced. It is stored in
	// the run context with the node output.
	Data map[string]any `json:"data,omitempty"`
}

// ActionDispatcher performs send-notification, update-ticket, assign-agent
// and create-task actions on behalf of the engine.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, intent ActionIntent) (ActionOutcome, error)
}

// AgentTask hands a ticket to an agent preset.
type AgentTask struct {
	RunID        string        `json:"run_id"`
	WorkflowID   string        `json:"workflow_id,omitempty"`
	NodeID       string        `json:"node_id"`
	PresetKey    string        `json:"preset_key"`
	Instructions string        `json:"instructions,omitempty"`
	Ticket       models.Ticket `json:"ticket"`
}

// AgentAssignment identifies the agent session created for a task.
type AgentAssignment struct {
	AssignmentID string `json:"assignment_id"`
}

type AgentDispatcher interface {
	Assign(ctx context.Context, task AgentTask) (AgentAssignment, error)
}

// Escalation is a hand-off of a ticket to a human expert queue.
type Escalation struct {
	RunID      string        `json:"run_id"`
	WorkflowID string        `json:"workflow_id,omitempty"`
	NodeID     string        `json:"node_id"`
	Level      string        `json:"level"`
	Timeout    time.Duration `json:"timeout"`
	Reason     string        `json:"reason,omitempty"`
	Ticket     models.Ticket `json:"ticket"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Escalator enqueues escalations onto the expert queue keyed by level.
type Escalator interface {
	Escalate(ctx context.Context, escalation Escalation) error
}

// RoomRequest asks the support chat backend for a room.
type RoomRequest struct {
	RunID        string        `json:"run_id"`
	WorkflowID   string        `json:"workflow_id,omitempty"`
	NodeID       string        `json:"node_id"`
	Name         string        `json:"name"`
	Participants []string      `json:"participants,omitempty"`
	Ticket       models.Ticket `json:"ticket"`
}

// Room is a chat room created by the support chat backend.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChatRooms interface {
	CreateRoom(ctx context.Context, req RoomRequest) (Room, error)
}

// VerificationRequest asks an external verifier to check a ticket against a
// reference document.
type VerificationRequest struct {
	RunID        string        `json:"run_id"`
	WorkflowID   string        `json:"workflow_id,omitempty"`
	NodeID       string        `json:"node_id"`
	DocumentPath string        `json:"document_path,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
	Ticket       models.Ticket `json:"ticket"`
}

type Verifier interface {
	Verify(ctx context.Context, req VerificationRequest) (bool, error)
}

// Collaborators groups the external services node handlers delegate to. A
// nil collaborator makes the nodes that need it fail with
// ErrMissingCollaborator.
type Collaborators struct {
	Actions     ActionDispatcher
	Agents      AgentDispatcher
	Escalations Escalator
	ChatRooms   ChatRooms
	Verifier    Verifier
}
