package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/codequest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// RecoveryMiddleware turns a handler panic into an error.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			duration := time.Since(start)

			if err != nil {
				logger.Error("handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
					"error", err,
				)
			} else {
				logger.Debug("handler completed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
				)
			}

			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// LogHandler writes every event at info level with its payload.
func LogHandler(logger *slog.Logger) shared.EventHandler {
	return func(event shared.Event) error {
		logger.Info("event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"payload", event.Payload(),
		)
		return nil
	}
}

// Publisher is the part of the Redis cache the forwarder needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Envelope is the JSON shape of a forwarded event.
type Envelope struct {
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// NewEnvelope flattens an event for the wire.
func NewEnvelope(event shared.Event) Envelope {
	return Envelope{
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
}

// ForwardHandler publishes each event to channelFor(event type). Each
// publish gets its own timeout because handlers carry no context.
func ForwardHandler(pub Publisher, channelFor func(shared.EventType) string, timeout time.Duration) shared.EventHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(event shared.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := pub.Publish(ctx, channelFor(event.EventType()), NewEnvelope(event)); err != nil {
			return fmt.Errorf("forward %s: %w", event.EventType(), err)
		}
		return nil
	}
}
