package models

import (
	"fmt"
	"time"
)

// ExecStatus defines the possible transient execution states of a node.
type ExecStatus string

const (
	ExecIdle    ExecStatus = "idle"
	ExecRunning ExecStatus = "running"
	ExecSuccess ExecStatus = "success"
	ExecError   ExecStatus = "error"
)

// ExecutionState is the transient, session-only execution indicator for a
// node. It is never persisted and never overwritten by status reconciliation.
type ExecutionState struct {
	Status    ExecStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// RunResult is one completed execution record. Identity for deduplication is
// (Code, FinishedAt).
type RunResult struct {
	ID              string            `json:"id,omitempty"`
	Code            string            `json:"code"`
	OK              bool              `json:"ok"`
	HTTPStatus      int               `json:"http_status"`
	StatusText      string            `json:"status_text,omitempty"`
	WebhookURL      string            `json:"webhook_url,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DurationMS      int64             `json:"duration_ms"`
	RequestPayload  map[string]any    `json:"request_payload,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Key returns the deduplication identity of the run.
func (r *RunResult) Key() string {
	return fmt.Sprintf("%s|%d", r.Code, r.FinishedAt.UnixMilli())
}

// CascadeEntry describes a dependent automation the backend auto-executed as
// a side effect of triggering an upstream node.
type CascadeEntry struct {
	Automation *Automation `json:"automation"`
	Execution  *RunResult  `json:"execution"`
}

// RunResponse is the structured shape the hosted runner may return for a
// trigger call. Opaque HTTP responses are synthesized into a bare RunResult
// instead.
type RunResponse struct {
	Automation *Automation    `json:"automation,omitempty"`
	Execution  *RunResult     `json:"execution,omitempty"`
	Cascade    []CascadeEntry `json:"cascade,omitempty"`
}

// StatusReport is one entry of the authoritative status snapshot. Optional
// fields are pointers so that reconciliation only overwrites what the backend
// actually reported.
type StatusReport struct {
	Code        string            `json:"code"`
	Status      *AutomationStatus `json:"status,omitempty"`
	StatusLabel *string           `json:"status_label,omitempty"`
	Connected   *bool             `json:"connected,omitempty"`
	LastRun     *time.Time        `json:"last_run,omitempty"`
}
