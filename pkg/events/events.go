// Package events defines the messages deskflow publishes about workflows and runs.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/deskflow/deskflow/pkg/models"
)

type EventType string

// Topic carries every deskflow event.
const Topic = "deskflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow definition events.
	WorkflowCreatedEvent EventType = "workflow.created"
	WorkflowUpdatedEvent EventType = "workflow.updated"
	WorkflowDeletedEvent EventType = "workflow.deleted"

	// Run lifecycle events.
	RunStartedEvent    EventType = "run.started"
	RunSuspendedEvent  EventType = "run.suspended"
	RunResumedEvent    EventType = "run.resumed"
	RunCompletedEvent  EventType = "run.completed"
	RunFailedEvent     EventType = "run.failed"
	NodeCompletedEvent EventType = "node.completed"

	// Hand-off events.
	EscalationRequestedEvent EventType = "escalation.requested"
)

// Types lists every event type published on Topic.
func Types() []EventType {
	return []EventType{
		WorkflowCreatedEvent,
		WorkflowUpdatedEvent,
		WorkflowDeletedEvent,
		RunStartedEvent,
		RunSuspendedEvent,
		RunResumedEvent,
		RunCompletedEvent,
		RunFailedEvent,
		NodeCompletedEvent,
		EscalationRequestedEvent,
	}
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RunEvent is embedded by every event about a single run.
type RunEvent struct {
	BaseEvent

	RunID    string          `json:"run_id"`
	TicketID string          `json:"ticket_id,omitempty"`
	State    models.RunState `json:"state"`
}

type WorkflowCreated struct {
	BaseEvent

	Name string `json:"name"`
}

func (w WorkflowCreated) GetType() EventType {
	return WorkflowCreatedEvent
}

type WorkflowUpdated struct {
	BaseEvent

	Name string `json:"name"`
}

func (w WorkflowUpdated) GetType() EventType {
	return WorkflowUpdatedEvent
}

type WorkflowDeleted struct {
	BaseEvent
}

func (w WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

type RunStarted struct {
	RunEvent
}

func (r RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunSuspended struct {
	RunEvent

	NodeID   string    `json:"node_id"`
	ResumeAt time.Time `json:"resume_at"`
}

func (r RunSuspended) GetType() EventType {
	return RunSuspendedEvent
}

type RunResumed struct {
	RunEvent
}

func (r RunResumed) GetType() EventType {
	return RunResumedEvent
}

type NodeCompleted struct {
	RunEvent

	Entry models.TraceEntry `json:"entry"`
}

func (n NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type RunCompleted struct {
	RunEvent
}

func (r RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	RunEvent

	Error string `json:"error"`
}

func (r RunFailed) GetType() EventType {
	return RunFailedEvent
}

// EscalationRequested asks the expert queue of Level to pick up a ticket.
type EscalationRequested struct {
	BaseEvent

	RunID   string        `json:"run_id"`
	NodeID  string        `json:"node_id"`
	Level   string        `json:"level"`
	Timeout time.Duration `json:"timeout"`
	Reason  string        `json:"reason,omitempty"`
	Ticket  models.Ticket `json:"ticket"`
}

func (e EscalationRequested) GetType() EventType {
	return EscalationRequestedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

func NewRunEvent(eventType EventType, workflowID, runID, ticketID string, state models.RunState) RunEvent {
	return RunEvent{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		RunID:     runID,
		TicketID:  ticketID,
		State:     state,
	}
}
