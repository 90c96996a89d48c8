// Package analytics emits product events. Emission is fire-and-forget:
// failures are logged and never reach the caller.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	EventTrialStarted          = "trial_started"
	EventTrialExpired          = "trial_expired"
	EventGraceStarted          = "grace_started"
	EventGraceExpired          = "grace_expired"
	EventTrialConverted        = "trial_converted"
	EventSubscriptionActivated = "subscription_activated"
	EventSubscriptionCanceled  = "subscription_canceled"
	EventSubscriptionExpired   = "subscription_expired"
)

type Sink interface {
	Emit(ctx context.Context, userID uuid.UUID, event string, props map[string]any)
}

// Event is the wire shape of an emitted event.
type Event struct {
	UserID     uuid.UUID      `json:"user_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, userID uuid.UUID, event string, props map[string]any) {
	slog.Info("analytics event", "user_id", userID.String(), "event", event, "properties", props)
}

// Open returns the AMQP sink when url is set and falls back to LogSink when
// it is empty or the broker cannot be reached. The returned func closes
// whatever was opened.
func Open(url, exchange string) (Sink, func()) {
	if url == "" {
		return LogSink{}, func() {}
	}
	sink, err := DialAMQPSink(url, exchange, 5, 2*time.Second)
	if err != nil {
		slog.Error("analytics broker unavailable, events are only logged", "error", err)
		return LogSink{}, func() {}
	}
	return sink, func() {
		if err := sink.Close(); err != nil {
			slog.Error("analytics close error", "error", err)
		}
	}
}
