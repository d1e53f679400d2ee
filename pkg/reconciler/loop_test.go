package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cadencehq/cadence/pkg/graph"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusClient struct {
	mu      sync.Mutex
	calls   int
	reports []models.StatusReport
	err     error
}

func (f *fakeStatusClient) StatusReports(_ context.Context) ([]models.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return f.reports, nil
}

func (f *fakeStatusClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeSink struct {
	mu     sync.Mutex
	stored [][]models.StatusReport
}

func (f *fakeSink) StoreReports(_ context.Context, reports []models.StatusReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stored = append(f.stored, reports)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statusPtr(status models.AutomationStatus) *models.AutomationStatus {
	return &status
}

func stringPtr(value string) *string {
	return &value
}

func TestLoopFirstPassRunsImmediately(t *testing.T) {
	g := graph.Load([]*models.Automation{{Code: "A", Name: "Collector"}})
	client := &fakeStatusClient{reports: []models.StatusReport{
		{Code: "A", Status: statusPtr(models.StatusWarning), StatusLabel: stringPtr("Rate limited")},
	}}

	loop := NewLoop(client, func() *graph.Graph { return g }, nil, time.Hour, testLogger())
	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return client.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	loop.Stop()

	assert.Equal(t, models.StatusWarning, g.Node("A").Status)
	assert.Equal(t, "Rate limited", g.Node("A").StatusLabel)
}

func TestLoopAppliesOnlyReportedFields(t *testing.T) {
	g := graph.Load([]*models.Automation{{
		Code:        "A",
		Name:        "Collector",
		Status:      models.StatusOperational,
		StatusLabel: "All good",
		Connected:   true,
	}})

	client := &fakeStatusClient{reports: []models.StatusReport{
		{Code: "A", Status: statusPtr(models.StatusError)},
		{Code: "ghost", Status: statusPtr(models.StatusError)},
	}}

	loop := NewLoop(client, func() *graph.Graph { return g }, nil, time.Hour, testLogger())
	loop.Start(context.Background())

	require.Eventually(t, func() bool {
		return client.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	loop.Stop()

	node := g.Node("A")
	assert.Equal(t, models.StatusError, node.Status)
	assert.Equal(t, "All good", node.StatusLabel)
	assert.True(t, node.Connected)
	assert.Nil(t, g.Node("ghost"))
}

func TestLoopKeepsGraphOnFetchFailure(t *testing.T) {
	g := graph.Load([]*models.Automation{{Code: "A", Status: models.StatusOperational}})
	client := &fakeStatusClient{err: errors.New("connection refused")}

	loop := NewLoop(client, func() *graph.Graph { return g }, nil, time.Hour, testLogger())
	loop.Start(context.Background())

	require.Eventually(t, func() bool {
		return client.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	loop.Stop()

	assert.Equal(t, models.StatusOperational, g.Node("A").Status)
}

func TestLoopTicksOnInterval(t *testing.T) {
	g := graph.Load([]*models.Automation{{Code: "A"}})
	client := &fakeStatusClient{}

	loop := NewLoop(client, func() *graph.Graph { return g }, nil, 20*time.Millisecond, testLogger())
	loop.Start(context.Background())

	require.Eventually(t, func() bool {
		return client.callCount() >= 3
	}, time.Second, 5*time.Millisecond)

	loop.Stop()
}

func TestLoopStopIsIdempotent(t *testing.T) {
	client := &fakeStatusClient{}

	loop := NewLoop(client, func() *graph.Graph { return nil }, nil, time.Hour, testLogger())

	loop.Stop()

	loop.Start(context.Background())
	loop.Stop()
	loop.Stop()

	calls := client.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.callCount())
}

func TestLoopStartTwiceRunsOneWorker(t *testing.T) {
	client := &fakeStatusClient{}

	loop := NewLoop(client, func() *graph.Graph { return nil }, nil, time.Hour, testLogger())
	loop.Start(context.Background())
	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool {
		return client.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, client.callCount())
}

func TestLoopConcurrentWithSnapshotReads(t *testing.T) {
	g := graph.Load([]*models.Automation{{Code: "A", Name: "Collector"}})
	client := &fakeStatusClient{reports: []models.StatusReport{
		{Code: "A", Status: statusPtr(models.StatusWarning)},
	}}

	loop := NewLoop(client, func() *graph.Graph { return g }, nil, time.Millisecond, testLogger())
	loop.Start(context.Background())
	defer loop.Stop()

	// Serialize the nodes while passes keep applying reports, the way request
	// handlers read the graph the loop writes to.
	for i := 0; i < 200; i++ {
		_, err := json.Marshal(g.Nodes())
		require.NoError(t, err)
	}

	loop.Stop()

	assert.Equal(t, models.StatusWarning, g.Node("A").Status)
}

func TestLoopForwardsSnapshotToSink(t *testing.T) {
	g := graph.Load([]*models.Automation{{Code: "A"}})
	client := &fakeStatusClient{reports: []models.StatusReport{{Code: "A"}}}
	sink := &fakeSink{}

	loop := NewLoop(client, func() *graph.Graph { return g }, sink, time.Hour, testLogger())
	loop.Start(context.Background())

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()

		return len(sink.stored) >= 1
	}, time.Second, 5*time.Millisecond)

	loop.Stop()
}
