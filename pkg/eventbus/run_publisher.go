package eventbus

import (
	"context"
	"log/slog"

	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/events"
)

// RunPublisher is an engine observer that republishes run notifications as
// events keyed by run id. Publish failures are logged and never fail a run.
type RunPublisher struct {
	bus    EventPublisher
	logger *slog.Logger
}

func NewRunPublisher(bus EventPublisher, logger *slog.Logger) *RunPublisher {
	return &RunPublisher{
		bus:    bus,
		logger: logger.With("module", "run_publisher"),
	}
}

func (p *RunPublisher) Observe(ctx context.Context, n engine.Notification) {
	event := ToEvent(n)
	if event == nil {
		return
	}

	if err := p.bus.Publish(ctx, n.RunID, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish run event",
			"run_id", n.RunID, "event_type", event.GetType(), "error", err)
	}
}

// ToEvent converts an engine notification into its event, or nil for kinds
// that are not published.
func ToEvent(n engine.Notification) Event {
	base := func(eventType events.EventType) events.RunEvent {
		e := events.NewRunEvent(eventType, n.WorkflowID, n.RunID, n.TicketID, n.State)
		if !n.At.IsZero() {
			e.Timestamp = n.At.UTC()
		}

		return e
	}

	switch n.Kind {
	case engine.NotifyRunStarted:
		return events.RunStarted{RunEvent: base(events.RunStartedEvent)}
	case engine.NotifyRunSuspended:
		return events.RunSuspended{RunEvent: base(events.RunSuspendedEvent), NodeID: n.NodeID, ResumeAt: n.ResumeAt}
	case engine.NotifyRunResumed:
		return events.RunResumed{RunEvent: base(events.RunResumedEvent)}
	case engine.NotifyNodeCompleted:
		if n.Entry == nil {
			return nil
		}

		return events.NodeCompleted{RunEvent: base(events.NodeCompletedEvent), Entry: *n.Entry}
	case engine.NotifyRunCompleted:
		return events.RunCompleted{RunEvent: base(events.RunCompletedEvent)}
	case engine.NotifyRunFailed:
		e := events.RunFailed{RunEvent: base(events.RunFailedEvent)}
		if n.Err != nil {
			e.Error = n.Err.Error()
		}

		return e
	default:
		return nil
	}
}
