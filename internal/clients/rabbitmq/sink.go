package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dpup/convoy-nav/server/internal/lib/telemetry"
)

// DefaultExchange receives position records
const DefaultExchange = "convoy.telemetry"

// Publisher is the subset of *amqp.Channel used by the sink
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Sink publishes telemetry records as JSON to a topic exchange, keyed by
// mission so consumers can bind per convoy.
type Sink struct {
	mu       sync.Mutex
	ch       Publisher
	conn     *amqp.Connection
	exchange string
}

// Dial connects to url and declares the exchange
func Dial(url, exchange string) (*Sink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	s := NewSink(ch, exchange)
	s.conn = conn
	return s, nil
}

// NewSink wraps an already opened channel
func NewSink(ch Publisher, exchange string) *Sink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Sink{ch: ch, exchange: exchange}
}

// RoutingKey is the key a record is published under
func RoutingKey(record telemetry.Record) string {
	mission := record.MissionID
	if mission == "" {
		mission = "unassigned"
	}
	return "position." + mission
}

// Record implements telemetry.Sink
func (s *Sink) Record(ctx context.Context, record telemetry.Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    record.Timestamp,
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(record), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// Close closes the channel and connection opened by Dial
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	if ch, ok := s.ch.(*amqp.Channel); ok {
		ch.Close()
	}
	return s.conn.Close()
}

