package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"transferd/internal/app/logger"
)

// Publisher delivers durable messages to a named queue. Publish returns as
// soon as the broker accepts the message; it never waits for consumers.
type Publisher interface {
	Publish(ctx context.Context, queue string, message interface{}) error
}

// Handler processes a single delivery. A non-nil error leaves the message
// unacknowledged so the broker redelivers it.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// AMQP interface implementation
var _ Publisher = (*AMQP)(nil)

type AMQP struct {
	url    string
	logger logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (q *AMQP) LoggerComponent() string {
	return "Queue.AMQP"
}

func NewAMQP(url string) *AMQP {
	q := &AMQP{
		url: url,
	}
	q.logger = logger.Global().Component(q)

	return q
}

// connection lazily dials the broker and reuses the connection while open.
func (q *AMQP) connection() (*amqp.Connection, error) {
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn, nil
	}

	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	q.conn = conn
	q.ch = nil

	return q.conn, nil
}

// channel returns the shared publisher channel, dialing if needed.
// Callers must hold q.mu.
func (q *AMQP) channel() (*amqp.Channel, error) {
	conn, err := q.connection()
	if err != nil {
		return nil, err
	}

	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q.ch = ch

	return q.ch, nil
}

func (q *AMQP) reset() {
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
}

// Publish implementation of interface Publisher. The message is JSON-encoded
// and delivered persistent to a durable queue. A stale connection is redialed
// once before the error is surfaced to the caller.
func (q *AMQP) Publish(ctx context.Context, queueName string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := q.channel()
		if err != nil {
			lastErr = err
			q.reset()
			continue
		}

		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			lastErr = fmt.Errorf("queue declare: %w", err)
			q.reset()
			continue
		}

		err = ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err != nil {
			lastErr = fmt.Errorf("publish: %w", err)
			q.reset()
			continue
		}

		return nil
	}

	return fmt.Errorf("publish to %s: %w", queueName, lastErr)
}

// Consume runs a long-lived worker for the queue, processing deliveries one
// at a time and acknowledging only after successful handling. It blocks until
// the context is cancelled, redialing on connection loss.
func (q *AMQP) Consume(ctx context.Context, queueName string, h Handler) error {
	const redialDelay = time.Second

	l := q.logger.With().Str("queue", queueName).Logger()

	for {
		if err := q.consumeOnce(ctx, queueName, h); err != nil {
			l.Error().Err(err).Msg("Consumer disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redialDelay):
		}
	}
}

func (q *AMQP) consumeOnce(ctx context.Context, queueName string, h Handler) error {
	q.mu.Lock()
	conn, err := q.connection()
	q.mu.Unlock()
	if err != nil {
		return err
	}

	// dedicated channel per consumer; the shared one is for publishing
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer func() {
		_ = ch.Close()
	}()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	l := q.logger.With().Str("queue", queueName).Logger()
	l.Info().Msg("Consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := h.Handle(ctx, d.Body); err != nil {
				l.Error().Err(err).Msg("Message processing failed")
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()

	return nil
}
