//go:build integration
// +build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx := context.Background()

	// Use existing container if available and running
	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("cadence_test"),
			postgres.WithUsername("cadence"),
			postgres.WithPassword("cadence"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	return p, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	ctx := context.Background()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, "TRUNCATE TABLE automations, schedules, runs")
	require.NoError(t, err)
}

func TestAutomationLifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	lastRun := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	automation := &models.Automation{
		Code:         "reports",
		Name:         "Daily Reports",
		Headline:     "Compiles the daily engagement report",
		Dependencies: []string{"collector"},
		Status:       models.StatusOperational,
		StatusLabel:  "All good",
		Connected:    true,
		LastRun:      &lastRun,
		WebhookURL:   "https://runner.test/hooks/reports",
	}

	require.NoError(t, p.SaveAutomation(ctx, automation))

	loaded, err := p.AutomationByCode(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, "Daily Reports", loaded.Name)
	assert.Equal(t, []string{"collector"}, loaded.Dependencies)
	assert.True(t, loaded.Connected)
	require.NotNil(t, loaded.LastRun)
	assert.True(t, lastRun.Equal(*loaded.LastRun))
	assert.Nil(t, loaded.Position)

	// Upsert updates in place.
	automation.Name = "Daily Reports v2"
	require.NoError(t, p.SaveAutomation(ctx, automation))

	all, err := p.Automations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Daily Reports v2", all[0].Name)

	require.NoError(t, p.DeleteAutomation(ctx, "reports"))

	_, err = p.AutomationByCode(ctx, "reports")
	assert.True(t, persistence.IsAutomationNotFound(err))

	err = p.DeleteAutomation(ctx, "reports")
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func TestPositionRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	require.NoError(t, p.SaveAutomation(ctx, &models.Automation{Code: "reports", Name: "Reports"}))
	require.NoError(t, p.SavePosition(ctx, "reports", models.Position{X: 380, Y: 200}))

	loaded, err := p.AutomationByCode(ctx, "reports")
	require.NoError(t, err)
	require.NotNil(t, loaded.Position)
	assert.InDelta(t, 380.0, loaded.Position.X, 0.01)
	assert.InDelta(t, 200.0, loaded.Position.Y, 0.01)

	require.NoError(t, p.ClearPositions(ctx))

	loaded, err = p.AutomationByCode(ctx, "reports")
	require.NoError(t, err)
	assert.Nil(t, loaded.Position)

	err = p.SavePosition(ctx, "missing", models.Position{X: 1, Y: 1})
	assert.True(t, persistence.IsAutomationNotFound(err))
}

func TestScheduleRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	_, err := p.ScheduleByCode(ctx, "reports")
	assert.True(t, persistence.IsScheduleNotFound(err))

	settings := &models.ScheduleSettings{
		Code:      "reports",
		Enabled:   true,
		Frequency: models.FrequencyWeekly,
		TimeOfDay: "08:30",
		DayOfWeek: "friday",
		Timezone:  "America/Sao_Paulo",
	}

	require.NoError(t, p.SaveSchedule(ctx, settings))

	loaded, err := p.ScheduleByCode(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, settings, loaded)

	settings.Frequency = models.FrequencyDaily
	require.NoError(t, p.SaveSchedule(ctx, settings))

	loaded, err = p.ScheduleByCode(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyDaily, loaded.Frequency)
}

func TestRunHistoryDeduplication(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	run := &models.RunResult{
		Code:       "reports",
		OK:         true,
		HTTPStatus: 200,
		StartedAt:  base.Add(-time.Second),
		FinishedAt: base,
		DurationMS: 1000,
	}

	require.NoError(t, p.SaveRun(ctx, run))
	// Same identity again must not duplicate.
	require.NoError(t, p.SaveRun(ctx, run))
	require.NoError(t, p.SaveRun(ctx, &models.RunResult{Code: "reports", OK: false, HTTPStatus: 500, FinishedAt: base.Add(time.Minute)}))

	runs, err := p.RunsByCode(ctx, "reports", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.False(t, runs[0].OK)
	assert.True(t, runs[1].OK)

	limited, err := p.RunsByCode(ctx, "reports", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.False(t, limited[0].OK)
}

func TestHealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	require.NoError(t, p.HealthCheck(ctx))
}
