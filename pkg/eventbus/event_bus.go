// Package eventbus provides publish/subscribe for automation lifecycle events.
package eventbus

import (
	"context"

	"github.com/cadencehq/cadence/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventHandler func(ctx context.Context, event any) error

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventBus interface {
	EventPublisher

	Subscribe(ctx context.Context) error
	Handle(eventType events.EventType, handler EventHandler) error
	Close() error
	GenerateID() string
}
