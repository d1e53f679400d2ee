package runner

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTriggerRequiresTarget(t *testing.T) {
	client := NewClient("", time.Second, testLogger())

	_, err := client.Trigger(context.Background(), &models.Automation{Code: "reports"})
	require.ErrorIs(t, err, ErrNoTriggerTarget)
}

func TestTriggerStructuredResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "reports", payload["code"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"execution": {"code": "reports", "ok": true, "http_status": 200, "duration_ms": 840},
			"automation": {"code": "reports", "status": "monitoring"},
			"cascade": [
				{"automation": {"code": "digest"}, "execution": {"code": "digest", "ok": true}}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	response, err := client.Trigger(context.Background(), &models.Automation{
		Code:        "reports",
		WebhookPath: "/hooks/reports",
	})
	require.NoError(t, err)
	require.NotNil(t, response.Execution)

	assert.True(t, response.Execution.OK)
	assert.Equal(t, 200, response.Execution.HTTPStatus)
	assert.Equal(t, int64(840), response.Execution.DurationMS)
	assert.False(t, response.Execution.FinishedAt.IsZero())
	assert.NotEmpty(t, response.Execution.ResponseHeaders)

	require.NotNil(t, response.Automation)
	assert.Equal(t, models.StatusMonitoring, response.Automation.Status)

	require.Len(t, response.Cascade, 1)
	assert.Equal(t, "digest", response.Cascade[0].Execution.Code)
	assert.False(t, response.Cascade[0].Execution.FinishedAt.IsZero())
}

func TestTriggerOpaqueResponseSynthesizesExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("queued"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	response, err := client.Trigger(context.Background(), &models.Automation{
		Code:       "reports",
		WebhookURL: server.URL + "/hooks/reports",
	})
	require.NoError(t, err)
	require.NotNil(t, response.Execution)

	assert.True(t, response.Execution.OK)
	assert.Equal(t, "reports", response.Execution.Code)
	assert.Equal(t, 200, response.Execution.HTTPStatus)
	assert.Equal(t, "queued", response.Execution.ResponseBody)
	assert.GreaterOrEqual(t, response.Execution.DurationMS, int64(0))
}

func TestTriggerNonSuccessStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "workflow not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	response, err := client.Trigger(context.Background(), &models.Automation{
		Code:       "reports",
		WebhookURL: server.URL + "/hooks/reports",
	})
	require.NoError(t, err)

	assert.False(t, response.Execution.OK)
	assert.Equal(t, 404, response.Execution.HTTPStatus)
	assert.Contains(t, response.Execution.ResponseBody, "workflow not found")
}

func TestTriggerTransportFailure(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, testLogger())

	_, err := client.Trigger(context.Background(), &models.Automation{
		Code:        "reports",
		WebhookPath: "/hooks/reports",
	})
	require.Error(t, err)
}

func TestStatusReportsShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
	}{
		{name: "bare array", body: `[{"code": "a"}, {"code": "b"}]`, count: 2},
		{name: "wrapped statuses", body: `{"statuses": [{"code": "a"}]}`, count: 1},
		{name: "wrapped automations", body: `{"automations": [{"code": "a"}]}`, count: 1},
		{name: "wrapped data", body: `{"data": [{"code": "a"}]}`, count: 1},
		{name: "single object", body: `{"code": "a", "connected": true}`, count: 1},
		{name: "entries without code dropped", body: `[{"code": "a"}, {"status": "error"}]`, count: 1},
		{name: "junk", body: `"nope"`, count: 0},
		{name: "empty body", body: ``, count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/automations/status", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second, testLogger())

			reports, err := client.StatusReports(context.Background())
			require.NoError(t, err)
			assert.Len(t, reports, tt.count)
		})
	}
}

func TestStatusReportsFieldPresence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"code": "a", "status": "warning"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	reports, err := client.StatusReports(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	require.NotNil(t, reports[0].Status)
	assert.Equal(t, models.StatusWarning, *reports[0].Status)
	assert.Nil(t, reports[0].Connected)
	assert.Nil(t, reports[0].StatusLabel)
}

func TestStatusReportsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	_, err := client.StatusReports(context.Background())
	require.Error(t, err)
}

func TestRunHistoryNormalizesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/automations/runs/reports", r.URL.Path)
		_, _ = w.Write([]byte(`{"runs": [
			{"code": "reports", "ok": true, "finished_at": "2025-06-01T12:00:00Z"},
			{"code": "reports", "ok": false, "finished_at": "2025-06-01T11:00:00Z"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	runs, err := client.RunHistory(context.Background(), "reports")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "reports", runs[0].Code)
}

func TestRunHistoryNonJSONPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())

	runs, err := client.RunHistory(context.Background(), "reports")
	require.NoError(t, err)
	assert.Empty(t, runs)
}
