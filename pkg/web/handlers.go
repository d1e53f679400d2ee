package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cadencehq/cadence/pkg/history"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/schedule"
	"github.com/cadencehq/cadence/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	service   *services.Automation
	validator *validator.Validate
}

func NewAPIHandlers(service *services.Automation, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		service:   service,
		validator: validate,
	}
}

// GetAutomations returns the full graph payload the dashboard renders from.
func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.service.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	positions, err := h.service.Layout(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	edges, err := h.service.Edges(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	responses := make([]AutomationResponse, 0, len(automations))
	for _, automation := range automations {
		responses = append(responses, AutomationResponse{
			Automation: automation,
			Execution:  h.service.ExecutionState(automation.Code),
			Layout:     positions[automation.Code],
		})
	}

	return c.JSON(GraphResponse{
		Automations: responses,
		Edges:       edges,
		Warnings:    h.service.Graph().Warnings(),
	})
}

// GetAutomation returns one node with its execution state.
func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	code := c.Params("code")

	automation, err := h.service.Get(c.Context(), code)
	if err != nil {
		return handleServiceError(c, err)
	}

	positions, err := h.service.Layout(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AutomationResponse{
		Automation: automation,
		Execution:  h.service.ExecutionState(code),
		Layout:     positions[code],
	})
}

// GetStatus returns the per-node status slice, durable fields plus the
// transient execution indicator.
func (h *APIHandlers) GetStatus(c fiber.Ctx) error {
	automations, err := h.service.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	entries := make([]StatusEntry, 0, len(automations))

	for _, automation := range automations {
		entry := StatusEntry{
			Code:        automation.Code,
			Status:      automation.Status,
			StatusLabel: automation.StatusLabel,
			Connected:   automation.Connected,
			Execution:   h.service.ExecutionState(automation.Code),
		}

		if automation.LastRun != nil {
			lastRun := automation.LastRun.UTC().Format(time.RFC3339)
			entry.LastRun = &lastRun
		}

		entries = append(entries, entry)
	}

	return c.JSON(fiber.Map{"statuses": entries})
}

// ImportAutomation validates and upserts a definition document.
func (h *APIHandlers) ImportAutomation(c fiber.Ctx) error {
	var definition map[string]any
	if err := c.Bind().JSON(&definition); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	automation, err := h.service.Import(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(automation)
}

// UpdateAutomation applies a partial update to one automation.
func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	code := c.Params("code")

	var req UpdateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.service.Get(c.Context(), code)
	if err != nil {
		return handleServiceError(c, err)
	}

	merged := *existing

	if req.Name != nil {
		merged.Name = *req.Name
	}

	if req.Headline != nil {
		merged.Headline = *req.Headline
	}

	if req.Description != nil {
		merged.Description = *req.Description
	}

	if req.Dependencies != nil {
		merged.Dependencies = *req.Dependencies
	}

	if req.WebhookURL != nil {
		merged.WebhookURL = *req.WebhookURL
	}

	if req.WebhookPath != nil {
		merged.WebhookPath = *req.WebhookPath
	}

	updated, err := h.service.Update(c.Context(), code, &merged)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// DeleteAutomation removes one automation.
func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("code")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RunAutomation triggers one automation and returns the run outcome,
// including cascaded results.
func (h *APIHandlers) RunAutomation(c fiber.Ctx) error {
	response, err := h.service.Run(c.Context(), c.Params("code"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(response)
}

// GetRuns returns the merged run history, newest first. The depth query
// parameter caps the list; compact=true selects the inspector depth.
func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	code := c.Params("code")

	depth := history.FullDepth
	if compact, _ := strconv.ParseBool(c.Query("compact")); compact {
		depth = history.CompactDepth
	}

	if depthStr := c.Query("depth"); depthStr != "" {
		parsed, err := strconv.Atoi(depthStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "depth must be a positive integer")
		}

		depth = parsed
	}

	runs, err := h.service.History(c.Context(), code, depth)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

// GetSchedule returns stored or defaulted schedule settings.
func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	settings, err := h.service.Schedule(c.Context(), c.Params("code"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(scheduleResponse(settings))
}

// PutSchedule normalizes and stores schedule settings. The payload is
// tolerant: unknown keys are ignored and malformed fields fall back to
// defaults.
func (h *APIHandlers) PutSchedule(c fiber.Ctx) error {
	var payload map[string]any
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	settings, err := h.service.SaveSchedule(c.Context(), c.Params("code"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(scheduleResponse(settings))
}

// scheduleResponse annotates settings with the next execution instant. The
// cron compilation cannot fail for normalized settings; if it ever does, the
// field is simply omitted.
func scheduleResponse(settings *models.ScheduleSettings) ScheduleResponse {
	response := ScheduleResponse{ScheduleSettings: settings}

	if settings.Enabled {
		if next, err := schedule.NextRun(*settings, time.Now()); err == nil {
			response.NextRun = &next
		}
	}

	return response
}

// PostPosition stores a manual position override.
func (h *APIHandlers) PostPosition(c fiber.Ctx) error {
	var req PositionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	code := c.Params("code")

	err := h.service.SetPosition(c.Context(), code, models.Position{X: *req.X, Y: *req.Y})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// AutoArrangeLayout recomputes and persists the layout for every node.
func (h *APIHandlers) AutoArrangeLayout(c fiber.Ctx) error {
	positions, err := h.service.AutoArrange(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"positions": positions})
}

// ResetLayout drops manual overrides and returns the computed layout.
func (h *APIHandlers) ResetLayout(c fiber.Ctx) error {
	positions, err := h.service.ResetLayout(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"positions": positions})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.service.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Cadence API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Cadence API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
