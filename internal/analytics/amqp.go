package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Publisher is the part of *amqp.Channel the sink needs.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events as persistent JSON messages on a topic
// exchange with routing key "user.<event>".
type AMQPSink struct {
	mu       sync.Mutex
	ch       Publisher
	exchange string
	conn     *amqp.Connection
	now      func() time.Time
}

// DialAMQPSink connects to RabbitMQ, retrying a few times, and declares the
// exchange.
func DialAMQPSink(url, exchange string, retries int, delay time.Duration) (*AMQPSink, error) {
	const op = "analytics.DialAMQPSink"
	var (
		conn *amqp.Connection
		err  error
	)
	for range max(retries, 1) {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		time.Sleep(delay)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: failed to declare exchange %s: %w", op, exchange, err)
	}

	sink := NewAMQPSink(ch, exchange)
	sink.conn = conn
	return sink, nil
}

func NewAMQPSink(ch Publisher, exchange string) *AMQPSink {
	return &AMQPSink{ch: ch, exchange: exchange, now: time.Now}
}

func (s *AMQPSink) Emit(_ context.Context, userID uuid.UUID, event string, props map[string]any) {
	body, err := json.Marshal(Event{
		UserID:     userID,
		Type:       event,
		Properties: props,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to encode analytics event", "event", event, "error", err)
		return
	}

	// amqp channels are not safe for concurrent publishes.
	s.mu.Lock()
	err = s.ch.Publish(s.exchange, "user."+event, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now().UTC(),
	})
	s.mu.Unlock()

	if err != nil {
		slog.Warn("failed to publish analytics event", "event", event, "user_id", userID.String(), "error", err)
	}
}

func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
