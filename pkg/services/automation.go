package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cadencehq/cadence/pkg/executor"
	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/history"
	"github.com/cadencehq/cadence/pkg/layout"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/schedule"
	"github.com/go-playground/validator/v10"
)

// HistoryClient fetches remote run history. Implemented by runner.Client.
type HistoryClient interface {
	RunHistory(ctx context.Context, code string) ([]*models.RunResult, error)
}

// Automation is the service behind the HTTP API. It owns the mounted graph
// and coordinates persistence, layout and the run executor. The service's
// lock guards the graph pointer swapped on Mount; node-level reads and writes
// are synchronized inside the graph itself.
type Automation struct {
	persistence persistence.Persistence
	coordinator *executor.Coordinator
	historyAPI  HistoryClient
	validate    *validator.Validate
	logger      *slog.Logger

	mu    sync.RWMutex
	graph *graph.Graph
}

// NewAutomation creates the automation service. The history client is
// optional; without one, history comes from local persistence only.
func NewAutomation(store persistence.Persistence, coordinator *executor.Coordinator, historyAPI HistoryClient, logger *slog.Logger) *Automation {
	return &Automation{
		persistence: store,
		coordinator: coordinator,
		historyAPI:  historyAPI,
		validate:    validator.New(),
		logger:      logger.With("module", "automation_service"),
	}
}

// Mount loads the persisted automation snapshot and rebuilds the dependency
// graph. Transient execution states survive the rebuild because they live in
// the coordinator's state store, keyed by code.
func (s *Automation) Mount(ctx context.Context) error {
	automations, err := s.persistence.Automations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load automations: %w", err)
	}

	g := graph.Load(automations)

	for _, warning := range g.Warnings() {
		s.logger.WarnContext(ctx, "Graph snapshot warning", "warning", warning)
	}

	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Automation graph mounted", "nodes", g.Len())

	return nil
}

// Graph returns the currently mounted graph, nil before the first Mount.
func (s *Automation) Graph() *graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.graph
}

func (s *Automation) mountedGraph() (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph == nil {
		return nil, ErrGraphNotMounted
	}

	return s.graph, nil
}

// HealthCheck checks the health of the persistence layer.
func (s *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every automation in the mounted graph in stable order.
func (s *Automation) List(_ context.Context) ([]*models.Automation, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	return g.Nodes(), nil
}

// Get returns one automation from the mounted graph.
func (s *Automation) Get(_ context.Context, code string) (*models.Automation, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	node := g.Node(code)
	if node == nil {
		return nil, ErrAutomationNotFound
	}

	return node, nil
}

// Create validates and persists a new automation, then remounts the graph.
func (s *Automation) Create(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	if err := s.validate.Struct(automation); err != nil {
		return nil, NewValidationError("Create", "INVALID_AUTOMATION", err.Error(), ErrInvalidDefinition)
	}

	_, err := s.persistence.AutomationByCode(ctx, automation.Code)
	if err == nil {
		return nil, ErrAutomationExists
	}

	if !persistence.IsAutomationNotFound(err) {
		return nil, fmt.Errorf("failed to check automation %s: %w", automation.Code, err)
	}

	if err := s.persistence.SaveAutomation(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}

	if err := s.Mount(ctx); err != nil {
		return nil, err
	}

	return automation, nil
}

// Update validates and persists changes to an existing automation. The stored
// creation timestamp is preserved.
func (s *Automation) Update(ctx context.Context, code string, automation *models.Automation) (*models.Automation, error) {
	automation.Code = code

	if err := s.validate.Struct(automation); err != nil {
		return nil, NewValidationError("Update", "INVALID_AUTOMATION", err.Error(), ErrInvalidDefinition)
	}

	existing, err := s.persistence.AutomationByCode(ctx, code)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return nil, ErrAutomationNotFound
		}

		return nil, err
	}

	automation.CreatedAt = existing.CreatedAt

	if err := s.persistence.SaveAutomation(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to update automation: %w", err)
	}

	if err := s.Mount(ctx); err != nil {
		return nil, err
	}

	return automation, nil
}

// Delete removes an automation and remounts the graph. Dependents keep their
// dependency entry; the next mount drops the dangling reference with a
// warning.
func (s *Automation) Delete(ctx context.Context, code string) error {
	err := s.persistence.DeleteAutomation(ctx, code)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return ErrAutomationNotFound
		}

		return err
	}

	return s.Mount(ctx)
}

// Import validates a loosely-typed definition against the JSON schema and
// upserts it. Used for definitions pasted or uploaded by operators.
func (s *Automation) Import(ctx context.Context, definition map[string]any) (*models.Automation, error) {
	if err := graph.ValidateDefinition(definition); err != nil {
		return nil, NewValidationError("Import", "SCHEMA_VALIDATION", err.Error(), ErrInvalidDefinition)
	}

	raw, err := json.Marshal(definition)
	if err != nil {
		return nil, NewValidationError("Import", "INVALID_JSON", err.Error(), ErrInvalidDefinition)
	}

	var automation models.Automation
	if err := json.Unmarshal(raw, &automation); err != nil {
		return nil, NewValidationError("Import", "INVALID_JSON", err.Error(), ErrInvalidDefinition)
	}

	existing, err := s.persistence.AutomationByCode(ctx, automation.Code)
	if err != nil && !persistence.IsAutomationNotFound(err) {
		return nil, err
	}

	if existing != nil {
		automation.CreatedAt = existing.CreatedAt
	}

	if err := s.persistence.SaveAutomation(ctx, &automation); err != nil {
		return nil, fmt.Errorf("failed to import automation: %w", err)
	}

	if err := s.Mount(ctx); err != nil {
		return nil, err
	}

	return &automation, nil
}

// Run triggers an automation through the coordinator and persists the durable
// fields the run reported, for the triggered node and every cascaded one.
func (s *Automation) Run(ctx context.Context, code string) (*models.RunResponse, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	response, err := s.coordinator.Execute(ctx, g, code)
	if err != nil {
		return nil, err
	}

	s.persistDurable(ctx, g, code)

	if response != nil {
		for _, entry := range response.Cascade {
			if entry.Automation != nil {
				s.persistDurable(ctx, g, entry.Automation.Code)
			}
		}
	}

	return response, nil
}

// persistDurable writes the current durable fields of one node back to
// storage. Failures are logged, not propagated: the in-memory graph is
// already correct and the reconciler heals storage drift.
func (s *Automation) persistDurable(ctx context.Context, g *graph.Graph, code string) {
	node := g.Node(code)
	if node == nil {
		return
	}

	if err := s.persistence.SaveAutomation(ctx, node); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist automation state", "code", code, "error", err)
	}
}

// ExecutionStates returns the non-idle transient states.
func (s *Automation) ExecutionStates() map[string]models.ExecutionState {
	return s.coordinator.States().States()
}

// ExecutionState returns the transient state for one automation.
func (s *Automation) ExecutionState(code string) models.ExecutionState {
	return s.coordinator.States().State(code)
}

// History returns the merged run history for one automation, newest first and
// capped to depth. Remote history is merged into local records when a history
// client is configured; a remote failure degrades to local data.
func (s *Automation) History(ctx context.Context, code string, depth int) ([]*models.RunResult, error) {
	if _, err := s.Get(ctx, code); err != nil {
		return nil, err
	}

	runs, err := s.persistence.RunsByCode(ctx, code, 0)
	if err != nil {
		return nil, err
	}

	if s.historyAPI != nil {
		remote, err := s.historyAPI.RunHistory(ctx, code)
		if err != nil {
			s.logger.WarnContext(ctx, "Remote history fetch failed, serving local records", "code", code, "error", err)
		}

		for _, run := range remote {
			if run.Code == "" {
				run.Code = code
			}

			runs = history.Merge(runs, run, 0)
		}
	}

	history.Sort(runs)

	if depth <= 0 {
		depth = history.FullDepth
	}

	if len(runs) > depth {
		runs = runs[:depth]
	}

	return runs, nil
}

// Schedule returns the stored schedule settings for an automation, or fully
// defaulted settings when none are stored yet.
func (s *Automation) Schedule(ctx context.Context, code string) (*models.ScheduleSettings, error) {
	if _, err := s.Get(ctx, code); err != nil {
		return nil, err
	}

	settings, err := s.persistence.ScheduleByCode(ctx, code)
	if err != nil {
		if persistence.IsScheduleNotFound(err) {
			defaults := schedule.Normalize(nil)
			defaults.Code = code

			return &defaults, nil
		}

		return nil, err
	}

	return settings, nil
}

// SaveSchedule normalizes a loosely-typed settings payload and persists it.
// The payload is merged onto the stored settings, so a partial update such as
// a bare enabled flag keeps the remaining fields.
func (s *Automation) SaveSchedule(ctx context.Context, code string, payload map[string]any) (*models.ScheduleSettings, error) {
	stored, err := s.Schedule(ctx, code)
	if err != nil {
		return nil, err
	}

	settings := schedule.Merge(*stored, payload)
	settings.Code = code

	if err := s.persistence.SaveSchedule(ctx, &settings); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	return &settings, nil
}

// Layout returns the effective position of every node, manual overrides
// winning over the computed arrangement.
func (s *Automation) Layout(_ context.Context) (map[string]models.Position, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	return layout.Arrange(g), nil
}

// Edges returns the rendered dependency edges, inferring a fallback chain
// when no dependencies are declared at all.
func (s *Automation) Edges(_ context.Context) ([]graph.Edge, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	return layout.InferEdges(g), nil
}

// SetPosition stores a manual position override for one node. A storage
// failure is logged, not surfaced: the in-memory override already applies and
// position is a convenience, not correctness-critical.
func (s *Automation) SetPosition(ctx context.Context, code string, position models.Position) error {
	g, err := s.mountedGraph()
	if err != nil {
		return err
	}

	if !g.SetPosition(code, position) {
		return ErrAutomationNotFound
	}

	if err := s.persistence.SavePosition(ctx, code, position); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist position", "code", code, "error", err)
	}

	return nil
}

// AutoArrange overwrites every override with the computed layout and persists
// the result.
func (s *Automation) AutoArrange(ctx context.Context) (map[string]models.Position, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	positions := layout.AutoArrange(g)

	for code, position := range positions {
		if err := s.persistence.SavePosition(ctx, code, position); err != nil {
			return nil, fmt.Errorf("failed to persist position for %s: %w", code, err)
		}
	}

	return positions, nil
}

// ResetLayout drops every manual override so the computed layout applies.
func (s *Automation) ResetLayout(ctx context.Context) (map[string]models.Position, error) {
	g, err := s.mountedGraph()
	if err != nil {
		return nil, err
	}

	positions := layout.Reset(g)

	if err := s.persistence.ClearPositions(ctx); err != nil {
		return nil, err
	}

	return positions, nil
}
