// Package models defines the core domain models for the automation graph.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// AutomationStatus is the backend-authoritative health state of an automation.
type AutomationStatus string

const (
	StatusOperational AutomationStatus = "operational"
	StatusMonitoring  AutomationStatus = "monitoring"
	StatusWarning     AutomationStatus = "warning"
	StatusError       AutomationStatus = "error"
)

// Position is a manual layout override for a node. Absent means "use the
// computed layout".
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Automation is one schedulable unit of work in the dependency graph.
// Status, StatusLabel, Connected and LastRun are durable fields owned by the
// backend; everything transient lives in executor.StateStore keyed by Code.
type Automation struct {
	Code         string           `json:"code"                   validate:"required"`
	Name         string           `json:"name"                   validate:"required,min=1"`
	Headline     string           `json:"headline,omitempty"`
	Description  string           `json:"description,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Status       AutomationStatus `json:"status,omitempty"`
	StatusLabel  string           `json:"status_label,omitempty"`
	Connected    bool             `json:"connected"`
	LastRun      *time.Time       `json:"last_run,omitempty"`
	Position     *Position        `json:"position,omitempty"`
	WebhookURL   string           `json:"webhook_url,omitempty"`
	WebhookPath  string           `json:"webhook_path,omitempty"`
	CreatedAt    time.Time        `json:"created_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at,omitempty"`
}

// Triggerable reports whether the automation has a remote trigger target.
// An automation without one cannot be executed.
func (a *Automation) Triggerable() bool {
	return a.WebhookURL != "" || a.WebhookPath != ""
}

// TriggerTarget resolves the URL the runner should be called on. A full
// webhook URL wins over a path joined to the runner base URL.
func (a *Automation) TriggerTarget(baseURL string) string {
	if a.WebhookURL != "" {
		return a.WebhookURL
	}

	if a.WebhookPath == "" {
		return ""
	}

	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(a.WebhookPath, "/")
}

// automationAlias avoids recursing into UnmarshalJSON.
type automationAlias Automation

// UnmarshalJSON normalizes the historical position shapes observed in backend
// payloads (position.{x,y}, flat position_x/position_y, layout.{x,y}) into the
// canonical Position field. The rest of the codebase only ever sees one shape.
func (a *Automation) UnmarshalJSON(data []byte) error {
	aux := struct {
		*automationAlias

		PositionX *float64  `json:"position_x"`
		PositionY *float64  `json:"position_y"`
		Layout    *Position `json:"layout"`
	}{automationAlias: (*automationAlias)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if a.Position == nil {
		switch {
		case aux.PositionX != nil && aux.PositionY != nil:
			a.Position = &Position{X: *aux.PositionX, Y: *aux.PositionY}
		case aux.Layout != nil:
			a.Position = aux.Layout
		}
	}

	return nil
}
