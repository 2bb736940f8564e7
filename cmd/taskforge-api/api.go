// Package main provides the TaskForge API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/taskforge/taskforge/pkg/eventbus"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/registry"
	"github.com/taskforge/taskforge/pkg/services"
	"github.com/taskforge/taskforge/pkg/web"
	"github.com/taskforge/taskforge/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	engine      *workflow.Engine
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	engine *workflow.Engine,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		engine:      engine,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence, a.registry)
	executionService := services.NewExecution(a.persistence, a.engine)

	handlers := web.NewAPIHandlers(workflowService, executionService, a.validate, a.registry, a.eventBus)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("TaskForge API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/enabled", handlers.SetWorkflowEnabled)
	w.Post("/:id/trigger", handlers.TriggerWorkflow)

	x := app.Group("/executions")
	x.Get("/", handlers.GetExecutions)
	x.Get("/:id", handlers.GetExecution)
	x.Post("/:id/resume", handlers.ResumeExecution)

	e := app.Group("/events")
	e.Post("/task-change", handlers.PostTaskChange)
	e.Post("/project-change", handlers.PostProjectChange)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
