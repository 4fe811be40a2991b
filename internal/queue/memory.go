package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// MemoryQueue is an in-process FIFO used in tests and single-node dev runs
// where no broker is available. Not durable.
type MemoryQueue struct {
	ch     chan Message
	once   sync.Once
	closed chan struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ch:     make(chan Message, capacity),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case q.ch <- Message{Kind: kind, Payload: raw}:
		return nil
	case <-q.closed:
		return errors.New("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case msg := <-q.ch:
			if err := handler(ctx, msg); err != nil {
				// Rejected messages are dropped; retry policy lives with
				// the consumer.
				continue
			}
		case <-q.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
