// Package reconciler periodically pulls the authoritative status snapshot
// from the hosted runner and folds it into the mounted graph.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/models"
)

// DefaultInterval between reconciliation passes.
const DefaultInterval = 35 * time.Second

// StatusClient fetches status reports. Implemented by runner.Client.
type StatusClient interface {
	StatusReports(ctx context.Context) ([]models.StatusReport, error)
}

// ReportSink receives every applied snapshot, e.g. the status cache.
type ReportSink interface {
	StoreReports(ctx context.Context, reports []models.StatusReport) error
}

// GraphProvider yields the currently mounted graph. A nil graph skips the
// pass; the next tick picks up whatever is mounted by then.
type GraphProvider func() *graph.Graph

// Loop drives the periodic reconciliation. One loop runs per service
// instance; reports merge durable fields only, so transient execution
// indicators are never clobbered by a pass.
type Loop struct {
	client   StatusClient
	graphs   GraphProvider
	sink     ReportSink
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewLoop creates a reconciliation loop. The sink is optional. A non-positive
// interval falls back to DefaultInterval.
func NewLoop(client StatusClient, graphs GraphProvider, sink ReportSink, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Loop{
		client:   client,
		graphs:   graphs,
		sink:     sink,
		interval: interval,
		logger:   logger.With("module", "reconciler"),
	}
}

// Start launches the loop. The first pass runs immediately, then one pass per
// interval until Stop or context cancellation. Starting a started loop is a
// no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return
	}

	l.started = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go l.run(ctx, l.stop, l.done)
}

// Stop halts the loop and waits for an in-flight pass to finish. Safe to call
// more than once and before Start.
func (l *Loop) Stop() {
	l.mu.Lock()

	if !l.started {
		l.mu.Unlock()

		return
	}

	l.started = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	<-done
}

func (l *Loop) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.reconcile(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reconcile(ctx)
		}
	}
}

// reconcile runs one pass. A failed fetch logs and leaves the graph as-is.
func (l *Loop) reconcile(ctx context.Context) {
	reports, err := l.client.StatusReports(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "Status fetch failed, keeping current graph state", "error", err)

		return
	}

	g := l.graphs()
	if g == nil {
		return
	}

	applied := 0

	for _, report := range reports {
		if g.ApplyReport(report) {
			applied++
		}
	}

	l.logger.DebugContext(ctx, "Reconciliation pass complete",
		"reports", len(reports), "applied", applied)

	if l.sink != nil && len(reports) > 0 {
		if err := l.sink.StoreReports(ctx, reports); err != nil {
			l.logger.WarnContext(ctx, "Failed to store status snapshot", "error", err)
		}
	}
}
