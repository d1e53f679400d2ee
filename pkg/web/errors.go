package web

import (
	"errors"

	"github.com/cadencehq/cadence/pkg/executor"
	"github.com/cadencehq/cadence/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrAutomationNotFound), errors.Is(err, executor.ErrUnknownAutomation):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("automation_not_found").
			WithDetail("automation not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, executor.ErrAlreadyRunning):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("already_running").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, executor.ErrNotTriggerable):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("not_triggerable").
			WithDetail("automation has no webhook target configured")

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.Is(err, services.ErrGraphNotMounted):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("graph_not_mounted").
			WithDetail("automation graph is not mounted yet")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	case services.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
