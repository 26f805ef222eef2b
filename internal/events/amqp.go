package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// EventQueueName is the durable queue lifecycle events publish to.
	EventQueueName = "fax.dispatch.events"

	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQ manages RabbitMQ connectivity and topology declaration for the
// event queue.
type RabbitMQ struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := r.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		r.mu.RLock()
		conn = r.conn
		r.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(EventQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare event queue: %w", err)
	}

	return ch, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.reconnectWithBackoff(ctx)
}

func (r *RabbitMQ) reconnectWithBackoff(ctx context.Context) error {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = newConn
			r.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// AMQPSink publishes lifecycle events to the event queue. Publish failures are
// logged and dropped; event delivery never feeds back into dispatch control
// flow.
type AMQPSink struct {
	client *RabbitMQ
	logger *zap.Logger
}

var _ Sink = (*AMQPSink)(nil)

func NewAMQPSink(client *RabbitMQ, logger *zap.Logger) (*AMQPSink, error) {
	if client == nil {
		return nil, fmt.Errorf("rabbitmq client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AMQPSink{client: client, logger: logger}, nil
}

func (s *AMQPSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.client == nil {
		return
	}
	if err := event.Validate(); err != nil {
		s.logger.Warn("dropping invalid event", zap.Error(err))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event",
			zap.String("type", event.Type.String()),
			zap.Error(err),
		)
		return
	}

	ch, err := s.client.channel(ctx)
	if err != nil {
		s.logger.Warn("failed to open channel for event publish",
			zap.String("type", event.Type.String()),
			zap.Error(err),
		)
		return
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
		Type:         event.Type.String(),
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", EventQueueName, false, false, publishing); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", event.Type.String()),
			zap.String("batchId", event.BatchID),
			zap.Error(err),
		)
	}
}

func (s *AMQPSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
