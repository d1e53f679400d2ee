// Package persistence provides the storage abstraction for automations,
// schedules, positions and run records.
package persistence

import (
	"context"

	"github.com/cadencehq/cadence/pkg/models"
)

type Persistence interface {
	Automations(ctx context.Context) ([]*models.Automation, error)
	AutomationByCode(ctx context.Context, code string) (*models.Automation, error)
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	DeleteAutomation(ctx context.Context, code string) error

	SavePosition(ctx context.Context, code string, position models.Position) error
	ClearPositions(ctx context.Context) error

	ScheduleByCode(ctx context.Context, code string) (*models.ScheduleSettings, error)
	SaveSchedule(ctx context.Context, settings *models.ScheduleSettings) error

	RunsByCode(ctx context.Context, code string, limit int) ([]*models.RunResult, error)
	SaveRun(ctx context.Context, run *models.RunResult) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
