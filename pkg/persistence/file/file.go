// Package file provides file-based persistence for automations, schedules and
// run records. Each automation is one JSON document under the root directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadencehq/cadence/pkg/history"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix is stripped so the type works with DATABASE_URL-style
// configuration.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

func (p *Persistence) automationPath(code string) string {
	return filepath.Clean(path.Join(p.root, "automations", code+".json"))
}

func (p *Persistence) schedulePath(code string) string {
	return filepath.Clean(path.Join(p.root, "schedules", code+".json"))
}

func (p *Persistence) runsPath(code string) string {
	return filepath.Clean(path.Join(p.root, "runs", code+".json"))
}

// Automations loads every stored automation definition.
func (p *Persistence) Automations(ctx context.Context) ([]*models.Automation, error) {
	root := os.DirFS(path.Join(p.root, "automations"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list automation files: %w", err)
	}

	automations := make([]*models.Automation, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		code := file[:len(file)-5] // strip .json

		automation, err := p.AutomationByCode(ctx, code)
		if err != nil {
			if persistence.IsAutomationNotFound(err) {
				continue
			}

			return nil, err
		}

		automations = append(automations, automation)
	}

	return automations, nil
}

// AutomationByCode loads one automation definition.
func (p *Persistence) AutomationByCode(_ context.Context, code string) (*models.Automation, error) {
	body, err := os.ReadFile(p.automationPath(code))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewAutomationError("ByCode", code, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewAutomationError("ByCode", code, err)
	}

	var automation models.Automation

	err = json.Unmarshal(body, &automation)
	if err != nil {
		return nil, persistence.NewAutomationError("ByCode", code, err)
	}

	return &automation, nil
}

// SaveAutomation writes one automation definition, stamping timestamps.
func (p *Persistence) SaveAutomation(_ context.Context, automation *models.Automation) error {
	err := os.MkdirAll(path.Join(p.root, "automations"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create automations directory: %w", err)
	}

	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	data, err := json.MarshalIndent(automation, "", "  ")
	if err != nil {
		return persistence.NewAutomationError("Save", automation.Code, err)
	}

	return os.WriteFile(p.automationPath(automation.Code), data, 0600)
}

// DeleteAutomation removes an automation and its schedule and run history.
func (p *Persistence) DeleteAutomation(_ context.Context, code string) error {
	err := os.Remove(p.automationPath(code))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewAutomationError("Delete", code, persistence.ErrAutomationNotFound)
		}

		return persistence.NewAutomationError("Delete", code, err)
	}

	_ = os.Remove(p.schedulePath(code))
	_ = os.Remove(p.runsPath(code))

	return nil
}

// SavePosition stores a manual position override on the automation document.
func (p *Persistence) SavePosition(ctx context.Context, code string, position models.Position) error {
	automation, err := p.AutomationByCode(ctx, code)
	if err != nil {
		return err
	}

	pos := position
	automation.Position = &pos

	return p.SaveAutomation(ctx, automation)
}

// ClearPositions drops every manual position override.
func (p *Persistence) ClearPositions(ctx context.Context) error {
	automations, err := p.Automations(ctx)
	if err != nil {
		return err
	}

	for _, automation := range automations {
		if automation.Position == nil {
			continue
		}

		automation.Position = nil

		if err := p.SaveAutomation(ctx, automation); err != nil {
			return err
		}
	}

	return nil
}

// ScheduleByCode loads the stored schedule settings for an automation.
func (p *Persistence) ScheduleByCode(_ context.Context, code string) (*models.ScheduleSettings, error) {
	body, err := os.ReadFile(p.schedulePath(code))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewAutomationError("ScheduleByCode", code, persistence.ErrScheduleNotFound)
		}

		return nil, persistence.NewAutomationError("ScheduleByCode", code, err)
	}

	var settings models.ScheduleSettings

	err = json.Unmarshal(body, &settings)
	if err != nil {
		return nil, persistence.NewAutomationError("ScheduleByCode", code, err)
	}

	return &settings, nil
}

// SaveSchedule stores schedule settings keyed by automation code.
func (p *Persistence) SaveSchedule(_ context.Context, settings *models.ScheduleSettings) error {
	err := os.MkdirAll(path.Join(p.root, "schedules"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create schedules directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return persistence.NewAutomationError("SaveSchedule", settings.Code, err)
	}

	return os.WriteFile(p.schedulePath(settings.Code), data, 0600)
}

// RunsByCode loads the newest run records for one automation, newest first.
func (p *Persistence) RunsByCode(_ context.Context, code string, limit int) ([]*models.RunResult, error) {
	body, err := os.ReadFile(p.runsPath(code))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.RunResult{}, nil
		}

		return nil, persistence.NewAutomationError("RunsByCode", code, err)
	}

	var runs []*models.RunResult

	err = json.Unmarshal(body, &runs)
	if err != nil {
		return nil, persistence.NewAutomationError("RunsByCode", code, err)
	}

	history.Sort(runs)

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// SaveRun appends a run record, deduplicating and capping the stored history.
func (p *Persistence) SaveRun(ctx context.Context, run *models.RunResult) error {
	if run == nil || run.Code == "" {
		return nil
	}

	runs, err := p.RunsByCode(ctx, run.Code, 0)
	if err != nil {
		return err
	}

	runs = history.Merge(runs, run, history.FullDepth)

	err = os.MkdirAll(path.Join(p.root, "runs"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return persistence.NewAutomationError("SaveRun", run.Code, err)
	}

	return os.WriteFile(p.runsPath(run.Code), data, 0600)
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
