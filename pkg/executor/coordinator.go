package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Precondition errors. No trigger request is sent when one of these applies.
var (
	ErrUnknownAutomation = errors.New("automation not found in graph")
	ErrNotTriggerable    = errors.New("automation has no webhook target configured")
	ErrAlreadyRunning    = errors.New("automation is already running")
)

// TriggerClient issues the remote run request. Implemented by runner.Client.
type TriggerClient interface {
	Target(automation *models.Automation) string
	Trigger(ctx context.Context, automation *models.Automation) (*models.RunResponse, error)
}

// RunStore persists completed run records. Implemented by persistence layers.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.RunResult) error
}

// Coordinator triggers automation runs, applies cascade outcomes to the graph
// and keeps the transient execution indicators in the state store. It never
// retries a failed run; re-running is a manual decision.
type Coordinator struct {
	trigger     TriggerClient
	states      *StateStore
	persistence RunStore
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewCoordinator wires a coordinator. Persistence, publisher and tracer are
// optional; a nil value disables that side effect.
func NewCoordinator(trigger TriggerClient, states *StateStore, store RunStore, publisher eventbus.EventPublisher, tracer trace.Tracer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		trigger:     trigger,
		states:      states,
		persistence: store,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "executor"),
	}
}

// States exposes the transient state store.
func (c *Coordinator) States() *StateStore {
	return c.states
}

// Execute triggers one automation and applies the outcome, including any
// cascade entries the backend reports. Precondition failures return before
// any network call. Every touched node's transient state reverts to idle
// after the quiet period via the state store.
func (c *Coordinator) Execute(ctx context.Context, g *graph.Graph, code string) (*models.RunResponse, error) {
	logger := c.logger.With("code", code)

	node := g.Node(code)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAutomation, code)
	}

	if !node.Triggerable() {
		c.states.Finish(code, models.ExecError, "No webhook target configured")

		return nil, fmt.Errorf("%w: %s", ErrNotTriggerable, code)
	}

	if c.states.Running(code) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, code)
	}

	var span trace.Span

	if c.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, c.tracer, "automation.execute",
			attribute.String(otelhelper.AutomationCodeKey, code))
		defer span.End()
	}

	c.states.Begin(code)
	c.publish(ctx, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, code),
		Target:    c.trigger.Target(node),
	})

	logger.InfoContext(ctx, "Triggering automation run")

	response, err := c.trigger.Trigger(ctx, node)
	if err != nil {
		logger.ErrorContext(ctx, "Trigger request failed", "error", err)

		if span != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.AutomationCodeKey, code))
		}

		c.states.Finish(code, models.ExecError, err.Error())
		c.publish(ctx, events.RunFailed{
			BaseEvent: events.NewBaseEvent(events.RunFailedEvent, code),
			Error:     err.Error(),
		})

		return nil, err
	}

	execution := response.Execution

	if !execution.OK {
		message := failureMessage(execution)

		logger.WarnContext(ctx, "Automation run reported failure",
			"http_status", execution.HTTPStatus, "message", message)

		if span != nil {
			otelhelper.SetError(span, errors.New(message),
				attribute.String(otelhelper.AutomationCodeKey, code),
				attribute.Int("http.status_code", execution.HTTPStatus))
		}

		c.states.Finish(code, models.ExecError, message)
		c.publish(ctx, events.RunFailed{
			BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, code),
			Error:      message,
			HTTPStatus: execution.HTTPStatus,
		})
		c.saveRun(ctx, execution)

		return response, nil
	}

	c.applySuccess(g, code, response)
	c.states.Finish(code, models.ExecSuccess, fmt.Sprintf("Run completed (HTTP %d)", execution.HTTPStatus))

	cascaded := c.applyCascade(ctx, g, code, response.Cascade)

	logger.InfoContext(ctx, "Automation run completed",
		"http_status", execution.HTTPStatus,
		"duration_ms", execution.DurationMS,
		"cascades", cascaded)

	c.publish(ctx, events.RunFinished{
		BaseEvent:   events.NewBaseEvent(events.RunFinishedEvent, code),
		ExecutionID: execution.ID,
		HTTPStatus:  execution.HTTPStatus,
		DurationMS:  execution.DurationMS,
		Cascades:    cascaded,
	})
	c.saveRun(ctx, execution)

	return response, nil
}

// applySuccess merges the durable fields reported for the triggered node.
// Mutations go through the graph's locked report path so concurrent readers
// and the reconciler never race with a run outcome.
func (c *Coordinator) applySuccess(g *graph.Graph, code string, response *models.RunResponse) {
	finishedAt := response.Execution.FinishedAt
	report := models.StatusReport{Code: code, LastRun: &finishedAt}

	if response.Automation != nil {
		if response.Automation.Status != "" {
			status := response.Automation.Status
			report.Status = &status
		}

		if response.Automation.StatusLabel != "" {
			label := response.Automation.StatusLabel
			report.StatusLabel = &label
		}
	}

	g.ApplyReport(report)
}

// applyCascade records every dependent run the backend reports as already
// completed. Entries are independent results; a visited set guards against
// duplicates and against the triggering node itself showing up in its own
// cascade list.
func (c *Coordinator) applyCascade(ctx context.Context, g *graph.Graph, upstream string, cascade []models.CascadeEntry) int {
	visited := map[string]bool{upstream: true}
	applied := 0

	for _, entry := range cascade {
		if entry.Automation == nil || entry.Automation.Code == "" {
			continue
		}

		code := entry.Automation.Code
		if visited[code] {
			continue
		}

		visited[code] = true

		report := models.StatusReport{Code: code}

		if entry.Automation.Status != "" {
			status := entry.Automation.Status
			report.Status = &status
		}

		if entry.Automation.StatusLabel != "" {
			label := entry.Automation.StatusLabel
			report.StatusLabel = &label
		}

		if entry.Execution != nil {
			finishedAt := entry.Execution.FinishedAt
			report.LastRun = &finishedAt
		}

		if !g.ApplyReport(report) {
			c.logger.Warn("Cascade entry references unknown automation", "code", code, "upstream", upstream)

			continue
		}

		if entry.Execution != nil {
			c.saveRun(ctx, entry.Execution)
		}

		c.states.MarkCascade(code, upstream)
		c.publish(ctx, events.CascadeApplied{
			BaseEvent: events.NewBaseEvent(events.CascadeAppliedEvent, code),
			Upstream:  upstream,
		})

		applied++
	}

	return applied
}

func (c *Coordinator) saveRun(ctx context.Context, run *models.RunResult) {
	if c.persistence == nil || run == nil {
		return
	}

	if err := c.persistence.SaveRun(ctx, run); err != nil {
		c.logger.ErrorContext(ctx, "Failed to persist run record", "code", run.Code, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, "automation", event); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// failureMessage draws a human-readable message from the structured error
// field or the raw response body; the body is preserved verbatim, only
// shortened for display.
func failureMessage(execution *models.RunResult) string {
	if execution.Error != "" {
		return execution.Error
	}

	body := strings.TrimSpace(execution.ResponseBody)
	if body != "" {
		if len(body) > 200 {
			body = body[:200]
		}

		return fmt.Sprintf("HTTP %d: %s", execution.HTTPStatus, body)
	}

	return fmt.Sprintf("HTTP %d: %s", execution.HTTPStatus, execution.StatusText)
}
