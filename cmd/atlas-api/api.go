// Package main provides the management API server for workflows and traces.
package main

import (
	"log/slog"
	"strconv"

	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/atlas-fitness/automations/pkg/registry"
	"github.com/atlas-fitness/automations/pkg/secrets"
	"github.com/atlas-fitness/automations/pkg/services"
	"github.com/atlas-fitness/automations/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)
	traceService := services.NewTrace(a.persistence)
	secretManager := secrets.NewManager(a.persistence.SecretRepository(), a.logger)

	handlers := web.NewAPIHandlers(
		workflowService,
		traceService,
		secretManager,
		a.persistence.DeliveryRepository(),
		a.validate,
		a.registry,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Atlas Automations API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/deactivate", handlers.DeactivateWorkflow)
	w.Get("/:id/traces", handlers.GetWorkflowTraces)
	w.Get("/:id/nodes/:nodeId/deliveries", handlers.GetTriggerDeliveries)
	w.Post("/:id/nodes/:nodeId/rotate-secret", handlers.RotateTriggerSecret)

	app.Get("/traces/:id", handlers.GetTrace)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
