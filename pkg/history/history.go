// Package history normalizes run-history payloads and maintains the bounded,
// deduplicated run list shown in the dashboard.
package history

import (
	"sort"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Retained history depths.
const (
	FullDepth    = 25 // full history view
	CompactDepth = 5  // compact inspector panel
)

// wrapperKeys are the historical envelope keys the backend has used for run
// lists.
var wrapperKeys = []string{"runs", "history", "items", "data"}

// Extract flattens a possibly-heterogeneous history payload (array, wrapped
// object, or single run-like object) into run records. Candidates without a
// parseable finished timestamp are dropped. Extract is total: junk input
// yields an empty list, never an error.
func Extract(payload any) []*models.RunResult {
	switch value := payload.(type) {
	case []any:
		return extractList(value)
	case map[string]any:
		for _, key := range wrapperKeys {
			if list, ok := value[key].([]any); ok {
				return extractList(list)
			}
		}

		if run := toRun(value); run != nil {
			return []*models.RunResult{run}
		}
	}

	return nil
}

// Latest resolves the most recent run: an explicit lastRun entry in the
// payload wins, otherwise the newest extracted record.
func Latest(payload any) *models.RunResult {
	if wrapper, ok := payload.(map[string]any); ok {
		for _, key := range []string{"lastRun", "last_run"} {
			if entry, ok := wrapper[key].(map[string]any); ok {
				if run := toRun(entry); run != nil {
					return run
				}
			}
		}
	}

	runs := Extract(payload)
	if len(runs) == 0 {
		return nil
	}

	Sort(runs)

	return runs[0]
}

// Sort orders runs newest-first by finish time.
func Sort(runs []*models.RunResult) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].FinishedAt.After(runs[j].FinishedAt)
	})
}

// Merge appends a freshly-completed run to an existing history, deduplicating
// by the (code, finishedAt) identity before re-sorting and capping to depth.
// Merging the same record twice is a no-op.
func Merge(runs []*models.RunResult, run *models.RunResult, depth int) []*models.RunResult {
	if run == nil {
		return capped(runs, depth)
	}

	merged := make([]*models.RunResult, 0, len(runs)+1)
	seen := map[string]bool{run.Key(): true}
	merged = append(merged, run)

	for _, existing := range runs {
		if existing == nil || seen[existing.Key()] {
			continue
		}

		seen[existing.Key()] = true
		merged = append(merged, existing)
	}

	Sort(merged)

	return capped(merged, depth)
}

func capped(runs []*models.RunResult, depth int) []*models.RunResult {
	if depth > 0 && len(runs) > depth {
		return runs[:depth]
	}

	return runs
}

func extractList(list []any) []*models.RunResult {
	runs := make([]*models.RunResult, 0, len(list))

	for _, entry := range list {
		candidate, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		if run := toRun(candidate); run != nil {
			runs = append(runs, run)
		}
	}

	return runs
}

// toRun converts one loosely-typed candidate. A run record is only accepted
// when it carries a parseable finished timestamp.
func toRun(candidate map[string]any) *models.RunResult {
	finishedAt, ok := timeValue(candidate, "finished_at", "finishedAt")
	if !ok {
		return nil
	}

	run := &models.RunResult{
		Code:       stringValue(candidate, "code", "automation", "id"),
		OK:         boolValue(candidate, "ok", "success"),
		HTTPStatus: intValue(candidate, "http_status", "httpStatus", "status_code", "statusCode"),
		StatusText: stringValue(candidate, "status_text", "statusText"),
		WebhookURL: stringValue(candidate, "webhook_url", "webhookUrl"),
		FinishedAt: finishedAt,
		DurationMS: int64(intValue(candidate, "duration_ms", "durationMs", "duration")),
		Error:      stringValue(candidate, "error"),
	}

	if startedAt, ok := timeValue(candidate, "started_at", "startedAt"); ok {
		run.StartedAt = startedAt
	}

	if body, ok := candidate["response_body"].(string); ok {
		run.ResponseBody = body
	} else if body, ok := candidate["responseBody"].(string); ok {
		run.ResponseBody = body
	}

	if run.DurationMS == 0 && !run.StartedAt.IsZero() {
		run.DurationMS = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	}

	return run
}

func stringValue(candidate map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := candidate[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}

func boolValue(candidate map[string]any, keys ...string) bool {
	for _, key := range keys {
		if value, ok := candidate[key].(bool); ok {
			return value
		}
	}

	return false
}

func intValue(candidate map[string]any, keys ...string) int {
	for _, key := range keys {
		switch value := candidate[key].(type) {
		case float64:
			return int(value)
		case int:
			return value
		}
	}

	return 0
}

func timeValue(candidate map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		raw, ok := candidate[key].(string)
		if !ok || raw == "" {
			continue
		}

		for _, format := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(format, raw); err == nil {
				return parsed.UTC(), true
			}
		}
	}

	return time.Time{}, false
}
