package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeTrigger struct {
	calls    int
	lastCode string
	response *models.RunResponse
	err      error
}

func (f *fakeTrigger) Target(automation *models.Automation) string {
	return automation.TriggerTarget("https://runner.test")
}

func (f *fakeTrigger) Trigger(_ context.Context, automation *models.Automation) (*models.RunResponse, error) {
	f.calls++
	f.lastCode = automation.Code

	if f.err != nil {
		return nil, f.err
	}

	return f.response, nil
}

type fakeRunStore struct {
	saved []*models.RunResult
}

func (f *fakeRunStore) SaveRun(_ context.Context, run *models.RunResult) error {
	f.saved = append(f.saved, run)

	return nil
}

type fakePublisher struct {
	published []eventbus.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	f.published = append(f.published, event)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()

	return graph.Load([]*models.Automation{
		{Code: "A", Name: "Collector", WebhookURL: "https://runner.test/hooks/a"},
		{Code: "B", Name: "Enricher", Dependencies: []string{"A"}, WebhookURL: "https://runner.test/hooks/b"},
		{Code: "C", Name: "Publisher", Dependencies: []string{"B"}, WebhookURL: "https://runner.test/hooks/c"},
		{Code: "orphan", Name: "No Target"},
	})
}

func successResponse(code string, finishedAt time.Time) *models.RunResponse {
	return &models.RunResponse{
		Execution: &models.RunResult{
			Code:       code,
			OK:         true,
			HTTPStatus: 200,
			FinishedAt: finishedAt,
			DurationMS: 1200,
		},
	}
}

func newTestCoordinator(trigger TriggerClient) *Coordinator {
	return NewCoordinator(trigger, NewStateStore(time.Minute), nil, nil, nil, testLogger())
}

func TestExecuteUnknownAutomation(t *testing.T) {
	trigger := &fakeTrigger{}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	_, err := coordinator.Execute(context.Background(), testGraph(t), "nope")
	require.ErrorIs(t, err, ErrUnknownAutomation)
	assert.Zero(t, trigger.calls)
}

func TestExecuteWithoutTargetFailsBeforeNetwork(t *testing.T) {
	trigger := &fakeTrigger{}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	_, err := coordinator.Execute(context.Background(), testGraph(t), "orphan")
	require.ErrorIs(t, err, ErrNotTriggerable)
	assert.Zero(t, trigger.calls)

	state := coordinator.States().State("orphan")
	assert.Equal(t, models.ExecError, state.Status)
	assert.Equal(t, "No webhook target configured", state.Message)
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	trigger := &fakeTrigger{response: successResponse("A", time.Now().UTC())}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	coordinator.States().Begin("A")

	_, err := coordinator.Execute(context.Background(), testGraph(t), "A")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Zero(t, trigger.calls)
}

func TestExecuteTransportFailure(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("connection refused")}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	_, err := coordinator.Execute(context.Background(), testGraph(t), "A")
	require.Error(t, err)

	state := coordinator.States().State("A")
	assert.Equal(t, models.ExecError, state.Status)
	assert.Contains(t, state.Message, "connection refused")
}

func TestExecuteReportedFailure(t *testing.T) {
	trigger := &fakeTrigger{response: &models.RunResponse{
		Execution: &models.RunResult{
			Code:       "A",
			OK:         false,
			HTTPStatus: 500,
			Error:      "workflow crashed",
			FinishedAt: time.Now().UTC(),
		},
	}}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	response, err := coordinator.Execute(context.Background(), testGraph(t), "A")
	require.NoError(t, err)
	require.NotNil(t, response)

	state := coordinator.States().State("A")
	assert.Equal(t, models.ExecError, state.Status)
	assert.Equal(t, "workflow crashed", state.Message)
}

func TestExecuteSuccessMergesDurableFields(t *testing.T) {
	finishedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	response := successResponse("A", finishedAt)
	response.Automation = &models.Automation{
		Code:        "A",
		Status:      models.StatusMonitoring,
		StatusLabel: "Watching feeds",
	}

	trigger := &fakeTrigger{response: response}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	g := testGraph(t)

	_, err := coordinator.Execute(context.Background(), g, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, trigger.calls)

	state := coordinator.States().State("A")
	assert.Equal(t, models.ExecSuccess, state.Status)
	assert.Equal(t, "Run completed (HTTP 200)", state.Message)

	node := g.Node("A")
	require.NotNil(t, node.LastRun)
	assert.Equal(t, finishedAt, *node.LastRun)
	assert.Equal(t, models.StatusMonitoring, node.Status)
	assert.Equal(t, "Watching feeds", node.StatusLabel)
}

func TestExecuteAppliesCascade(t *testing.T) {
	finishedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	response := successResponse("A", finishedAt)
	response.Cascade = []models.CascadeEntry{
		{
			Automation: &models.Automation{Code: "B", Status: models.StatusOperational},
			Execution:  &models.RunResult{Code: "B", OK: true, HTTPStatus: 200, FinishedAt: finishedAt.Add(time.Second)},
		},
		{
			Automation: &models.Automation{Code: "C"},
			Execution:  &models.RunResult{Code: "C", OK: true, HTTPStatus: 200, FinishedAt: finishedAt.Add(2 * time.Second)},
		},
	}

	trigger := &fakeTrigger{response: response}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	g := testGraph(t)

	_, err := coordinator.Execute(context.Background(), g, "A")
	require.NoError(t, err)

	states := coordinator.States()
	assert.Equal(t, models.ExecSuccess, states.State("A").Status)
	assert.Equal(t, models.ExecSuccess, states.State("B").Status)
	assert.Equal(t, models.ExecSuccess, states.State("C").Status)

	// The triggered node and cascaded nodes carry distinct messages.
	assert.Equal(t, "Run completed (HTTP 200)", states.State("A").Message)
	assert.Equal(t, "Triggered by A", states.State("B").Message)
	assert.Equal(t, "Triggered by A", states.State("C").Message)

	require.NotNil(t, g.Node("B").LastRun)
	assert.Equal(t, finishedAt.Add(time.Second), *g.Node("B").LastRun)
}

func TestExecuteCascadeSkipsUnknownAndDuplicateEntries(t *testing.T) {
	finishedAt := time.Now().UTC()
	response := successResponse("A", finishedAt)
	response.Cascade = []models.CascadeEntry{
		{Automation: &models.Automation{Code: "ghost"}},
		{Automation: &models.Automation{Code: "A"}},
		{Automation: &models.Automation{Code: "B"}},
		{Automation: &models.Automation{Code: "B"}},
	}

	trigger := &fakeTrigger{response: response}
	coordinator := newTestCoordinator(trigger)
	defer coordinator.States().Stop()

	g := testGraph(t)

	_, err := coordinator.Execute(context.Background(), g, "A")
	require.NoError(t, err)

	// Only B applies: ghost is unknown, A is the trigger itself, the second
	// B entry is a duplicate.
	assert.Equal(t, "Run completed (HTTP 200)", coordinator.States().State("A").Message)
	assert.Equal(t, "Triggered by A", coordinator.States().State("B").Message)
	assert.Equal(t, models.ExecIdle, coordinator.States().State("C").Status)
}

func TestExecutePersistsRunRecords(t *testing.T) {
	finishedAt := time.Now().UTC()
	response := successResponse("A", finishedAt)
	response.Cascade = []models.CascadeEntry{
		{
			Automation: &models.Automation{Code: "B"},
			Execution:  &models.RunResult{Code: "B", OK: true, HTTPStatus: 200, FinishedAt: finishedAt.Add(time.Second)},
		},
	}

	trigger := &fakeTrigger{response: response}
	store := &fakeRunStore{}
	coordinator := NewCoordinator(trigger, NewStateStore(time.Minute), store, nil, nil, testLogger())
	defer coordinator.States().Stop()

	_, err := coordinator.Execute(context.Background(), testGraph(t), "A")
	require.NoError(t, err)

	require.Len(t, store.saved, 2)
	assert.Equal(t, "B", store.saved[0].Code)
	assert.Equal(t, "A", store.saved[1].Code)
}

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	finishedAt := time.Now().UTC()
	response := successResponse("A", finishedAt)

	trigger := &fakeTrigger{response: response}
	publisher := &fakePublisher{}
	coordinator := NewCoordinator(trigger, NewStateStore(time.Minute), nil, publisher, nil, testLogger())
	defer coordinator.States().Stop()

	_, err := coordinator.Execute(context.Background(), testGraph(t), "A")
	require.NoError(t, err)

	require.Len(t, publisher.published, 2)

	started, ok := publisher.published[0].(events.RunStarted)
	require.True(t, ok)
	assert.Equal(t, "A", started.Code)
	assert.Equal(t, "https://runner.test/hooks/a", started.Target)

	finished, ok := publisher.published[1].(events.RunFinished)
	require.True(t, ok)
	assert.Equal(t, 200, finished.HTTPStatus)
}

func TestExecuteRecordsSpanError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	defer func() {
		_ = provider.Shutdown(context.Background())
	}()

	trigger := &fakeTrigger{err: errors.New("connection refused")}
	coordinator := NewCoordinator(trigger, NewStateStore(time.Minute), nil, nil, provider.Tracer("test"), testLogger())
	defer coordinator.States().Stop()

	_, err := coordinator.Execute(context.Background(), testGraph(t), "A")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, otelcodes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Status.Description, "connection refused")
	require.NotEmpty(t, spans[0].Events)
}

func TestFailureMessagePreference(t *testing.T) {
	tests := []struct {
		name      string
		execution *models.RunResult
		expected  string
	}{
		{
			name:      "structured error wins",
			execution: &models.RunResult{Error: "crashed", ResponseBody: "ignored", HTTPStatus: 500},
			expected:  "crashed",
		},
		{
			name:      "body used when no error field",
			execution: &models.RunResult{ResponseBody: "upstream timeout", HTTPStatus: 502},
			expected:  "HTTP 502: upstream timeout",
		},
		{
			name:      "status text as last resort",
			execution: &models.RunResult{HTTPStatus: 500, StatusText: "500 Internal Server Error"},
			expected:  "HTTP 500: 500 Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, failureMessage(tt.execution))
		})
	}
}
