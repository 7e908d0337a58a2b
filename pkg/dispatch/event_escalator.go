package dispatch

import (
	"context"
	"fmt"

	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/eventbus"
	"github.com/deskflow/deskflow/pkg/events"
)

// EventEscalator publishes escalations as escalation.requested events keyed
// by level, for deployments where expert queues consume the event bus.
type EventEscalator struct {
	bus eventbus.EventPublisher
}

func NewEventEscalator(bus eventbus.EventPublisher) *EventEscalator {
	return &EventEscalator{bus: bus}
}

func (e *EventEscalator) Escalate(ctx context.Context, escalation engine.Escalation) error {
	event := events.EscalationRequested{
		BaseEvent: events.NewBaseEvent(events.EscalationRequestedEvent, escalation.WorkflowID),
		RunID:     escalation.RunID,
		NodeID:    escalation.NodeID,
		Level:     escalation.Level,
		Timeout:   escalation.Timeout,
		Reason:    escalation.Reason,
		Ticket:    escalation.Ticket,
	}

	if !escalation.CreatedAt.IsZero() {
		event.Timestamp = escalation.CreatedAt.UTC()
	}

	if err := e.bus.Publish(ctx, escalation.Level, event); err != nil {
		return fmt.Errorf("failed to publish escalation for %s: %w", escalation.Level, err)
	}

	return nil
}
