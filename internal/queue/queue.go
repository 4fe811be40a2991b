// Package queue abstracts the durable command FIFO between the HTTP edge
// and the ingest workers. Any durable FIFO satisfies the contract; the
// production implementation rides RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
)

// Message is one command envelope on the FIFO.
type Message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one message. A non-nil error rejects the message
// without requeue; retry policy lives with the consumer, not the broker.
type Handler func(ctx context.Context, msg Message) error

type Queue interface {
	// Enqueue serializes payload and appends it to the FIFO.
	Enqueue(ctx context.Context, kind string, payload interface{}) error

	// Consume delivers messages to handler until ctx is cancelled. The
	// in-flight message is always finished before Consume returns.
	Consume(ctx context.Context, handler Handler) error

	Close() error
}
