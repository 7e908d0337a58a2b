package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/deskflow/deskflow/pkg/config"
	"github.com/deskflow/deskflow/pkg/dispatch"
	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/eventbus"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewCollaborators builds the engine collaborators described by cfg. Without
// a dispatch URL every collaborator is an in-memory recorder. Escalations go
// to the recorder, the event bus or a Redis queue per cfg.Escalations. The
// returned closer releases the Redis connection, if any.
func NewCollaborators(
	ctx context.Context,
	cfg config.DispatchConfig,
	redisCfg config.RedisConfig,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
) (engine.Collaborators, io.Closer, error) {
	recorder := dispatch.NewRecorder()
	collab := recorder.Collaborators()

	if cfg.URL != "" {
		httpDispatcher, err := dispatch.NewHTTPDispatcher(dispatch.HTTPConfig{
			BaseURL:  cfg.URL,
			Token:    cfg.Token,
			Timeout:  cfg.Timeout,
			MaxTries: cfg.MaxRetries + 1,
		}, logger)
		if err != nil {
			return engine.Collaborators{}, nil, err
		}

		collab = httpDispatcher.Collaborators(recorder)
	}

	var closer io.Closer = nopCloser{}

	switch cfg.Escalations {
	case "", "memory":
	case "events":
		if bus == nil {
			return engine.Collaborators{}, nil, fmt.Errorf("event escalations need an event bus")
		}

		collab.Escalations = dispatch.NewEventEscalator(bus)
	case "redis":
		queue, err := dispatch.NewRedisQueue(ctx, redisCfg.Addr, redisCfg.Password, redisCfg.DB, logger)
		if err != nil {
			return engine.Collaborators{}, nil, err
		}

		collab.Escalations = queue
		closer = queue
	default:
		return engine.Collaborators{}, nil, fmt.Errorf("unsupported escalation target: %s", cfg.Escalations)
	}

	return collab, closer, nil
}

// NewEngine creates the execution engine. When bus is set every run
// lifecycle notification is published on it.
func NewEngine(cfg config.EngineConfig, collab engine.Collaborators, bus eventbus.EventPublisher, logger *slog.Logger) *engine.Engine {
	opts := []engine.Option{engine.WithLogger(logger)}
	if bus != nil {
		opts = append(opts, engine.WithObserver(eventbus.NewRunPublisher(bus, logger)))
	}

	return engine.New(engine.Config{
		MaxSteps:         cfg.MaxSteps,
		Workers:          cfg.Workers,
		EscalationPolicy: engine.EscalationPolicy(cfg.EscalationPolicy),
	}, collab, opts...)
}
