// Package events defines event types for automation run lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries all automation lifecycle events.
const Topic = "cadence.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent     EventType = "automation.run.started"
	RunFinishedEvent    EventType = "automation.run.finished"
	RunFailedEvent      EventType = "automation.run.failed"
	CascadeAppliedEvent EventType = "automation.cascade.applied"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
}

func NewBaseEvent(eventType EventType, code string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Code:      code,
	}
}

// RunStarted is published when a trigger request is issued for an automation.
type RunStarted struct {
	BaseEvent

	Target string `json:"target,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// RunFinished is published when a trigger call resolves successfully.
type RunFinished struct {
	BaseEvent

	ExecutionID string `json:"execution_id,omitempty"`
	HTTPStatus  int    `json:"http_status"`
	DurationMS  int64  `json:"duration_ms"`
	Cascades    int    `json:"cascades"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// RunFailed is published when a trigger call fails or reports a failure.
type RunFailed struct {
	BaseEvent

	Error      string `json:"error"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

// CascadeApplied is published for every dependent automation the backend
// auto-executed as a consequence of an upstream run.
type CascadeApplied struct {
	BaseEvent

	Upstream string `json:"upstream"`
}

func (e CascadeApplied) GetType() EventType {
	return CascadeAppliedEvent
}
