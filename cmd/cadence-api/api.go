// Package main provides the Cadence API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/cadencehq/cadence/pkg/services"
	"github.com/cadencehq/cadence/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	service  *services.Automation
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, service *services.Automation) *API {
	return &API{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.service, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadence API")
	})

	automations := app.Group("/automations")
	automations.Get("/", handlers.GetAutomations)
	automations.Post("/", handlers.ImportAutomation)
	automations.Get("/status", handlers.GetStatus)
	automations.Post("/layout/auto", handlers.AutoArrangeLayout)
	automations.Delete("/layout", handlers.ResetLayout)
	automations.Post("/run/:code", handlers.RunAutomation)
	automations.Get("/runs/:code", handlers.GetRuns)
	automations.Get("/:code", handlers.GetAutomation)
	automations.Patch("/:code", handlers.UpdateAutomation)
	automations.Delete("/:code", handlers.DeleteAutomation)
	automations.Get("/:code/schedule", handlers.GetSchedule)
	automations.Put("/:code/schedule", handlers.PutSchedule)
	automations.Post("/:code/position", handlers.PostPosition)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
