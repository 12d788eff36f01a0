package interfaces

import (
	"context"
	"errors"
	"log"
	"reflect"
)

// LoggingPublisher logs settlement lifecycle events.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// Publish logs the event.
func (p *LoggingPublisher) Publish(ctx context.Context, event any) error {
	_ = ctx
	if p == nil {
		return errors.New("settlement publisher: nil publisher")
	}
	p.logger.Printf("settlement event %s: %+v", reflect.TypeOf(event).String(), event)
	return nil
}
