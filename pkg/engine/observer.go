package engine

import (
	"context"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
)

// NotificationKind names a run lifecycle notification.
type NotificationKind string

const (
	NotifyRunStarted    NotificationKind = "run.started"
	NotifyNodeCompleted NotificationKind = "node.completed"
	NotifyRunSuspended  NotificationKind = "run.suspended"
	NotifyRunResumed    NotificationKind = "run.resumed"
	NotifyRunCompleted  NotificationKind = "run.completed"
	NotifyRunFailed     NotificationKind = "run.failed"
)

// Notification describes one lifecycle change of a run.
type Notification struct {
	Kind       NotificationKind
	RunID      string
	WorkflowID string
	TicketID   string
	State      models.RunState
	NodeID     string
	Entry      *models.TraceEntry
	ResumeAt   time.Time
	Err        error
	At         time.Time
}

// Observer receives run notifications. Observe is called synchronously from
// the goroutine advancing the run and must not block.
type Observer interface {
	Observe(ctx context.Context, n Notification)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, n Notification)

func (f ObserverFunc) Observe(ctx context.Context, n Notification) {
	f(ctx, n)
}
