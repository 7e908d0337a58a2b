// Package main provides the Deskflow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"

	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/eventbus"
	"github.com/deskflow/deskflow/pkg/persistence"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/services"
	"github.com/deskflow/deskflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	engine      *engine.Engine
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	clock       clockwork.Clock

	workflowService *services.Workflow
	app             *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	engine *engine.Engine,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		engine:      engine,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clockwork.NewRealClock(),
	}
}

// WorkflowService returns the service backing the handlers, creating it on
// first use.
func (a *API) WorkflowService() *services.Workflow {
	if a.workflowService == nil {
		opts := []services.Option{services.WithLogger(a.logger), services.WithClock(a.clock)}
		if a.eventBus != nil {
			opts = append(opts, services.WithEventPublisher(a.eventBus))
		}

		a.workflowService = services.NewWorkflow(a.persistence, a.registry, a.engine, opts...)
	}

	return a.workflowService
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.WorkflowService(), a.validate, a.registry, a.clock)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Deskflow API")
	})

	v1 := app.Group("/api/v1")
	handlers.RegisterRoutes(v1)

	v1.Get("/engine/stats", func(c fiber.Ctx) error {
		return c.JSON(a.engine.Stats())
	})

	a.app = app

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":"+strconv.Itoa(port), fiber.ListenConfig{
		DisableStartupMessage: true,
	})
}

// Shutdown stops accepting requests, cancels the runs still in flight and
// waits until their records are stored.
func (a *API) Shutdown(ctx context.Context) error {
	err := a.App().ShutdownWithContext(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to shut down HTTP server", "error", err)
	}

	closeErr := a.engine.Close(ctx)
	if closeErr != nil {
		a.logger.ErrorContext(ctx, "Failed to close engine", "error", closeErr)
	}

	waitErr := a.WorkflowService().Wait(ctx)
	if waitErr != nil {
		a.logger.ErrorContext(ctx, "Background runs were not stored", "error", waitErr)
	}

	if err != nil {
		return err
	}

	if closeErr != nil {
		return closeErr
	}

	return waitErr
}
