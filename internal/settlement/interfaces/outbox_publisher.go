package interfaces

import (
	"context"

	"windpark-cloud/internal/eventing"
)

// OutboxPublisher writes settlement lifecycle events to the outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// Publish writes the event to outbox.
func (p *OutboxPublisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, event)
}
