package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitQueue is the production FIFO: one durable queue, persistent
// messages, manual acks. Consume runs a reconnect loop with exponential
// backoff so a broker restart never kills the workers.
type RabbitQueue struct {
	url      string
	name     string
	prefetch int
	log      zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitQueue(url, name string, prefetch int, log zerolog.Logger) *RabbitQueue {
	if prefetch <= 0 {
		prefetch = 50
	}
	return &RabbitQueue{url: url, name: name, prefetch: prefetch, log: log}
}

func (q *RabbitQueue) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil && !q.conn.IsClosed() {
		return q.ch, nil
	}
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	q.conn, q.ch = conn, ch
	return ch, nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	body, err := json.Marshal(Message{Kind: kind, Payload: raw})
	if err != nil {
		return err
	}
	ch, err := q.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		"",     // default exchange
		q.name, // routing key = queue name
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
}

func (q *RabbitQueue) Consume(ctx context.Context, handler Handler) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := q.consumeOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn().Err(err).Dur("backoff", backoff).Msg("queue: consume loop ended, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (q *RabbitQueue) consumeOnce(ctx context.Context, handler Handler) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		q.log.Warn().Err(err).Msg("queue: set QoS failed")
	}
	deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var msg Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				q.log.Error().Err(err).Msg("queue: malformed message, rejecting")
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				q.log.Error().Err(err).Str("kind", msg.Kind).Msg("queue: handler failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		err := q.conn.Close()
		q.conn = nil
		return err
	}
	return nil
}
