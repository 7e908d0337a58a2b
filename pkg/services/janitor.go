package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/deskflow/deskflow/pkg/persistence"
)

// DefaultRetentionSchedule sweeps once an hour.
const DefaultRetentionSchedule = "@hourly"

// Janitor periodically deletes run records older than a retention age.
type Janitor struct {
	executions persistence.ExecutionRepository
	maxAge     time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	cron       *cron.Cron
}

// NewJanitor schedules sweeps with a standard five-field cron expression or a
// descriptor such as "@hourly".
func NewJanitor(executions persistence.ExecutionRepository, schedule string, maxAge time.Duration, clock clockwork.Clock, logger *slog.Logger) (*Janitor, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("%w: retention age must be positive, got %s", ErrInvalidRequest, maxAge)
	}

	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	j := &Janitor{
		executions: executions,
		maxAge:     maxAge,
		clock:      clock,
		logger:     logger.With("module", "janitor"),
		cron:       cron.New(),
	}

	_, err := j.cron.AddFunc(schedule, func() {
		_, _ = j.Sweep(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	return j, nil
}

// Sweep deletes run records that finished more than maxAge ago.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := j.clock.Now().Add(-j.maxAge)

	deleted, err := j.executions.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "retention sweep failed", "cutoff", cutoff, "error", err)

		return deleted, err
	}

	j.logger.InfoContext(ctx, "retention sweep finished", "deleted", deleted, "cutoff", cutoff)

	return deleted, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop stops scheduling and waits for a running sweep, or for ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
