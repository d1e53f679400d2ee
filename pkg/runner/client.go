// Package runner is the HTTP client for the hosted workflow engine that
// actually executes automations. The engine is a black box reached via a
// trigger webhook plus polled status endpoints.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/cadence/pkg/history"
	"github.com/cadencehq/cadence/pkg/models"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20 // cap bodies kept for display
)

// ErrNoTriggerTarget is returned when an automation carries neither a webhook
// URL nor a webhook path.
var ErrNoTriggerTarget = errors.New("automation has no trigger target")

// Client talks to the hosted runner. All methods are non-blocking beyond the
// request itself and tolerate malformed response bodies: a trigger call always
// yields a uniform RunResult, synthesized from the raw response when the body
// is not parseable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("module", "runner_client"),
	}
}

// Target resolves the URL a trigger call for the automation would hit, empty
// when the automation has no webhook target.
func (c *Client) Target(automation *models.Automation) string {
	return automation.TriggerTarget(c.baseURL)
}

// Trigger issues the run request for an automation. Transport failures return
// an error; everything that produced an HTTP response returns a RunResponse
// whose Execution is always populated. Non-2xx statuses are reported through
// RunResult.OK, not as an error.
func (c *Client) Trigger(ctx context.Context, automation *models.Automation) (*models.RunResponse, error) {
	target := c.Target(automation)
	if target == "" {
		return nil, ErrNoTriggerTarget
	}

	startedAt := time.Now().UTC()

	payload := map[string]any{
		"code":         automation.Code,
		"triggered_at": startedAt.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger response: %w", err)
	}

	finishedAt := time.Now().UTC()

	response := c.decodeRunResponse(raw)
	if response == nil {
		response = &models.RunResponse{}
	}

	if response.Execution == nil {
		response.Execution = &models.RunResult{
			OK:           resp.StatusCode >= 200 && resp.StatusCode < 300,
			ResponseBody: string(raw),
		}
	}

	c.fillExecution(response.Execution, automation.Code, target, resp, payload, startedAt, finishedAt)

	for _, entry := range response.Cascade {
		if entry.Execution != nil && entry.Automation != nil {
			c.fillExecution(entry.Execution, entry.Automation.Code, target, resp, nil, startedAt, finishedAt)
		}
	}

	return response, nil
}

// decodeRunResponse attempts the structured shape; a body that is not JSON or
// not an object yields nil and the caller synthesizes instead.
func (c *Client) decodeRunResponse(raw []byte) *models.RunResponse {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var response models.RunResponse
	if err := json.Unmarshal(trimmed, &response); err != nil {
		c.logger.Debug("Trigger response is not a structured run response", "error", err)

		return nil
	}

	if response.Execution == nil && response.Automation == nil && len(response.Cascade) == 0 {
		return nil
	}

	return &response
}

// fillExecution completes a run result with everything the runner did not
// report so downstream consumers always receive a uniform record.
func (c *Client) fillExecution(execution *models.RunResult, code, target string, resp *http.Response, payload map[string]any, startedAt, finishedAt time.Time) {
	if execution.Code == "" {
		execution.Code = code
	}

	if execution.HTTPStatus == 0 {
		execution.HTTPStatus = resp.StatusCode
	}

	if execution.StatusText == "" {
		execution.StatusText = resp.Status
	}

	if execution.WebhookURL == "" {
		execution.WebhookURL = target
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = startedAt
	}

	if execution.FinishedAt.IsZero() {
		execution.FinishedAt = finishedAt
	}

	if execution.DurationMS == 0 {
		execution.DurationMS = execution.FinishedAt.Sub(execution.StartedAt).Milliseconds()
	}

	if execution.RequestPayload == nil && payload != nil {
		execution.RequestPayload = payload
	}

	if execution.ResponseHeaders == nil {
		headers := make(map[string]string, len(resp.Header))
		for key := range resp.Header {
			headers[key] = resp.Header.Get(key)
		}

		execution.ResponseHeaders = headers
	}
}

// StatusReports fetches the authoritative status snapshot. The endpoint has
// shipped several shapes over time; all of them normalize to a flat report
// list and none of them cause an error beyond transport failures.
func (c *Client) StatusReports(ctx context.Context) ([]models.StatusReport, error) {
	raw, err := c.get(ctx, c.baseURL+"/automations/status")
	if err != nil {
		return nil, err
	}

	return decodeStatusReports(raw), nil
}

// RunHistory fetches the run history for one automation, normalized through
// the tolerant history extractor.
func (c *Client) RunHistory(ctx context.Context, code string) ([]*models.RunResult, error) {
	raw, err := c.get(ctx, c.baseURL+"/automations/runs/"+code)
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("Run history payload is not JSON, ignoring", "code", code, "error", err)

		return nil, nil
	}

	return history.Extract(payload), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
}

// decodeStatusReports accepts a bare array, a wrapped object under one of the
// historical keys, or a single report object.
func decodeStatusReports(raw []byte) []models.StatusReport {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		var reports []models.StatusReport
		if err := json.Unmarshal(trimmed, &reports); err != nil {
			return nil
		}

		return keptReports(reports)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil
	}

	for _, key := range []string{"statuses", "automations", "nodes", "items", "data"} {
		if inner, exists := wrapper[key]; exists {
			var reports []models.StatusReport
			if err := json.Unmarshal(inner, &reports); err == nil {
				return keptReports(reports)
			}
		}
	}

	// Single report object.
	var report models.StatusReport
	if err := json.Unmarshal(trimmed, &report); err == nil && report.Code != "" {
		return []models.StatusReport{report}
	}

	return nil
}

func keptReports(reports []models.StatusReport) []models.StatusReport {
	kept := reports[:0]

	for _, report := range reports {
		if report.Code != "" {
			kept = append(kept, report)
		}
	}

	return kept
}
