// Package web provides the HTTP API serving the automation dashboard.
package web

import (
	"time"

	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/models"
)

// AutomationResponse is one graph node plus its transient execution state and
// effective layout position.
type AutomationResponse struct {
	*models.Automation

	Execution models.ExecutionState `json:"execution"`
	Layout    models.Position       `json:"layout"`
}

// GraphResponse is the full dashboard payload: nodes, rendered edges and any
// snapshot warnings collected at mount.
type GraphResponse struct {
	Automations []AutomationResponse `json:"automations"`
	Edges       []graph.Edge         `json:"edges"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// StatusEntry is the per-node slice of GET /automations/status.
type StatusEntry struct {
	Code        string                  `json:"code"`
	Status      models.AutomationStatus `json:"status,omitempty"`
	StatusLabel string                  `json:"status_label,omitempty"`
	Connected   bool                    `json:"connected"`
	LastRun     *string                 `json:"last_run,omitempty"`
	Execution   models.ExecutionState   `json:"execution"`
}

// ScheduleResponse is the schedule settings plus the next execution instant,
// present only while the schedule is enabled.
type ScheduleResponse struct {
	*models.ScheduleSettings

	NextRun *time.Time `json:"next_run,omitempty"`
}

// UpdateAutomationRequest supports partial updates; absent fields keep their
// stored value.
type UpdateAutomationRequest struct {
	Name         *string   `json:"name,omitempty"         validate:"omitempty,min=1"`
	Headline     *string   `json:"headline,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Dependencies *[]string `json:"dependencies,omitempty"`
	WebhookURL   *string   `json:"webhook_url,omitempty"`
	WebhookPath  *string   `json:"webhook_path,omitempty"`
}

// PositionRequest is a manual node position override.
type PositionRequest struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}
