package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/deskflow/deskflow/pkg/cmd"
	"github.com/deskflow/deskflow/pkg/config"
	"github.com/deskflow/deskflow/pkg/log"
	"github.com/deskflow/deskflow/pkg/otelhelper"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "deskflow-api",
		Usage:                 "Design, validate and execute service-desk workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a deskflow config file (yaml, json or toml)",
				Sources: cli.EnvVars("DESKFLOW_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL: file://<dir> or postgres://...",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "dispatch-url",
				Usage:   "Base URL of the support platform receiving actions, agent tasks, rooms and verifications",
				Sources: cli.EnvVars("DISPATCH_URL"),
			},
			&cli.StringFlag{
				Name:    "escalations",
				Usage:   "Where escalations are handed off (memory, events, redis)",
				Sources: cli.EnvVars("ESCALATIONS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for escalation queues, e.g. redis://localhost:6379/0",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.DurationFlag{
				Name:    "execution-retention",
				Usage:   "Delete run records older than this (0 keeps them forever)",
				Sources: cli.EnvVars("EXECUTION_RETENTION"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			return run(ctx, cfg)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and lets explicitly set flags and their
// environment variables win over it.
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	if command.IsSet("port") {
		cfg.Server.Port = int(command.Int("port"))
	}

	if command.IsSet("database-url") {
		cfg.Database.URL = command.String("database-url")
	}

	if command.IsSet("log-level") {
		cfg.Server.LogLevel = command.String("log-level")
	}

	if command.IsSet("event-bus") {
		cfg.EventBus.Type = command.String("event-bus")
	}

	if command.IsSet("kafka-brokers") {
		cfg.EventBus.Brokers = command.String("kafka-brokers")
	}

	if command.IsSet("dispatch-url") {
		cfg.Dispatch.URL = command.String("dispatch-url")
	}

	if command.IsSet("escalations") {
		cfg.Dispatch.Escalations = command.String("escalations")
	}

	if command.IsSet("redis-url") {
		opts, err := redis.ParseURL(command.String("redis-url"))
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		cfg.Redis.Addr = opts.Addr
		cfg.Redis.Password = opts.Password
		cfg.Redis.DB = opts.DB
	}

	if command.IsSet("otel-enabled") {
		cfg.Otel.Enabled = command.Bool("otel-enabled")
	}

	if command.IsSet("execution-retention") {
		cfg.Retention.MaxAge = command.Duration("execution-retention")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log.SetupWriter(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Deskflow API", "port", cfg.Server.Port, "event_bus", cfg.EventBus.Type)

	if cfg.Otel.Enabled {
		tracerProvider, err := otelhelper.NewTracerProvider(ctx, cfg.Otel.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := tracerProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, logger, cfg.Database.URL)
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(cfg.EventBus.Type, cfg.EventBus.Brokers, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	collab, collabCloser, err := cmd.NewCollaborators(ctx, cfg.Dispatch, cfg.Redis, eventBus, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := collabCloser.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close collaborators", "error", err)
		}
	}()

	eng := cmd.NewEngine(cfg.Engine, collab, eventBus, logger)

	if cfg.Retention.MaxAge > 0 {
		janitor, err := services.NewJanitor(persistence.ExecutionRepository(), cfg.Retention.Schedule, cfg.Retention.MaxAge, nil, logger)
		if err != nil {
			return err
		}

		janitor.Start()

		defer func() {
			if err := janitor.Stop(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to stop janitor", "error", err)
			}
		}()
	}

	api := NewAPI(logger, persistence, registry.NewRegistry(logger), eng, eventBus)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- api.Start(cfg.Server.Port)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.ErrorContext(ctx, "Failed to start API server", "error", err)
		}

		return err
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down Deskflow API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return api.Shutdown(shutdownCtx)
}
