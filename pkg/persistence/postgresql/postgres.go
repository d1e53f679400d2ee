// Package postgresql provides PostgreSQL persistence for automations,
// schedules and run records.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // postgres driver
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects, pings and migrates the database.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

const automationColumns = `code, name, headline, description, dependencies, status, status_label,
	connected, last_run, position_x, position_y, webhook_url, webhook_path, created_at, updated_at`

// Automations returns all stored automation definitions.
func (p *Persistence) Automations(ctx context.Context) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY code`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}
	defer rows.Close()

	var automations []*models.Automation

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}

		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate automations: %w", err)
	}

	return automations, nil
}

// AutomationByCode returns one automation definition.
func (p *Persistence) AutomationByCode(ctx context.Context, code string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE code = $1`

	automation, err := scanAutomation(p.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError("ByCode", code, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewAutomationError("ByCode", code, err)
	}

	return automation, nil
}

// SaveAutomation upserts an automation definition.
func (p *Persistence) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	dependencies, err := json.Marshal(automation.Dependencies)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.Code, err)
	}

	var positionX, positionY sql.NullFloat64
	if automation.Position != nil {
		positionX = sql.NullFloat64{Float64: automation.Position.X, Valid: true}
		positionY = sql.NullFloat64{Float64: automation.Position.Y, Valid: true}
	}

	var lastRun sql.NullTime
	if automation.LastRun != nil {
		lastRun = sql.NullTime{Time: *automation.LastRun, Valid: true}
	}

	query := `
		INSERT INTO automations (` + automationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			headline = EXCLUDED.headline,
			description = EXCLUDED.description,
			dependencies = EXCLUDED.dependencies,
			status = EXCLUDED.status,
			status_label = EXCLUDED.status_label,
			connected = EXCLUDED.connected,
			last_run = EXCLUDED.last_run,
			position_x = EXCLUDED.position_x,
			position_y = EXCLUDED.position_y,
			webhook_url = EXCLUDED.webhook_url,
			webhook_path = EXCLUDED.webhook_path,
			updated_at = EXCLUDED.updated_at`

	_, err = p.db.ExecContext(ctx, query,
		automation.Code, automation.Name, automation.Headline, automation.Description,
		dependencies, automation.Status, automation.StatusLabel, automation.Connected,
		lastRun, positionX, positionY, automation.WebhookURL, automation.WebhookPath,
		automation.CreatedAt, automation.UpdatedAt)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.Code, err)
	}

	return nil
}

// DeleteAutomation removes an automation along with its schedule and runs.
func (p *Persistence) DeleteAutomation(ctx context.Context, code string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM automations WHERE code = $1", code)
	if err != nil {
		return persistence.NewAutomationError("Delete", code, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewAutomationError("Delete", code, err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("Delete", code, persistence.ErrAutomationNotFound)
	}

	_, _ = p.db.ExecContext(ctx, "DELETE FROM schedules WHERE code = $1", code)
	_, _ = p.db.ExecContext(ctx, "DELETE FROM runs WHERE code = $1", code)

	return nil
}

// SavePosition stores a manual position override.
func (p *Persistence) SavePosition(ctx context.Context, code string, position models.Position) error {
	query := `UPDATE automations SET position_x = $2, position_y = $3, updated_at = NOW() WHERE code = $1`

	result, err := p.db.ExecContext(ctx, query, code, position.X, position.Y)
	if err != nil {
		return persistence.NewAutomationError("SavePosition", code, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewAutomationError("SavePosition", code, err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("SavePosition", code, persistence.ErrAutomationNotFound)
	}

	return nil
}

// ClearPositions drops every manual position override.
func (p *Persistence) ClearPositions(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "UPDATE automations SET position_x = NULL, position_y = NULL, updated_at = NOW()")
	if err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	return nil
}

// ScheduleByCode returns the stored schedule settings for an automation.
func (p *Persistence) ScheduleByCode(ctx context.Context, code string) (*models.ScheduleSettings, error) {
	query := `SELECT code, enabled, frequency, time_of_day, day_of_week, timezone FROM schedules WHERE code = $1`

	var settings models.ScheduleSettings

	err := p.db.QueryRowContext(ctx, query, code).Scan(
		&settings.Code, &settings.Enabled, &settings.Frequency,
		&settings.TimeOfDay, &settings.DayOfWeek, &settings.Timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError("ScheduleByCode", code, persistence.ErrScheduleNotFound)
		}

		return nil, persistence.NewAutomationError("ScheduleByCode", code, err)
	}

	return &settings, nil
}

// SaveSchedule upserts schedule settings.
func (p *Persistence) SaveSchedule(ctx context.Context, settings *models.ScheduleSettings) error {
	query := `
		INSERT INTO schedules (code, enabled, frequency, time_of_day, day_of_week, timezone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			frequency = EXCLUDED.frequency,
			time_of_day = EXCLUDED.time_of_day,
			day_of_week = EXCLUDED.day_of_week,
			timezone = EXCLUDED.timezone`

	_, err := p.db.ExecContext(ctx, query,
		settings.Code, settings.Enabled, settings.Frequency,
		settings.TimeOfDay, settings.DayOfWeek, settings.Timezone)
	if err != nil {
		return persistence.NewAutomationError("SaveSchedule", settings.Code, err)
	}

	return nil
}

// RunsByCode returns run records for one automation, newest first.
func (p *Persistence) RunsByCode(ctx context.Context, code string, limit int) ([]*models.RunResult, error) {
	query := `
		SELECT code, ok, http_status, status_text, webhook_url, started_at, finished_at,
			duration_ms, response_body, error
		FROM runs WHERE code = $1 ORDER BY finished_at DESC`

	args := []any{code}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewAutomationError("RunsByCode", code, err)
	}
	defer rows.Close()

	runs := make([]*models.RunResult, 0)

	for rows.Next() {
		var (
			run       models.RunResult
			startedAt sql.NullTime
		)

		err := rows.Scan(&run.Code, &run.OK, &run.HTTPStatus, &run.StatusText,
			&run.WebhookURL, &startedAt, &run.FinishedAt, &run.DurationMS,
			&run.ResponseBody, &run.Error)
		if err != nil {
			return nil, persistence.NewAutomationError("RunsByCode", code, err)
		}

		if startedAt.Valid {
			run.StartedAt = startedAt.Time
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewAutomationError("RunsByCode", code, err)
	}

	return runs, nil
}

// SaveRun inserts a run record. The (code, finished_at) identity deduplicates
// replays, so saving the same record twice is a no-op.
func (p *Persistence) SaveRun(ctx context.Context, run *models.RunResult) error {
	if run == nil || run.Code == "" {
		return nil
	}

	query := `
		INSERT INTO runs (code, ok, http_status, status_text, webhook_url,
			started_at, finished_at, duration_ms, response_body, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code, finished_at) DO NOTHING`

	var startedAt sql.NullTime
	if !run.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: run.StartedAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, query,
		run.Code, run.OK, run.HTTPStatus, run.StatusText, run.WebhookURL,
		startedAt, run.FinishedAt, run.DurationMS, run.ResponseBody, run.Error)
	if err != nil {
		return persistence.NewAutomationError("SaveRun", run.Code, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*models.Automation, error) {
	var (
		automation   models.Automation
		dependencies []byte
		lastRun      sql.NullTime
		positionX    sql.NullFloat64
		positionY    sql.NullFloat64
	)

	err := row.Scan(&automation.Code, &automation.Name, &automation.Headline,
		&automation.Description, &dependencies, &automation.Status,
		&automation.StatusLabel, &automation.Connected, &lastRun,
		&positionX, &positionY, &automation.WebhookURL, &automation.WebhookPath,
		&automation.CreatedAt, &automation.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(dependencies) > 0 {
		if err := json.Unmarshal(dependencies, &automation.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies for %s: %w", automation.Code, err)
		}
	}

	if lastRun.Valid {
		t := lastRun.Time
		automation.LastRun = &t
	}

	if positionX.Valid && positionY.Valid {
		automation.Position = &models.Position{X: positionX.Float64, Y: positionY.Float64}
	}

	return &automation, nil
}
