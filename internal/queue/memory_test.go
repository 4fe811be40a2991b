package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, "add_plate", map[string]int{"seq": i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var (
		mu   sync.Mutex
		seen []int
		done = make(chan struct{})
	)
	go q.Consume(ctx, func(ctx context.Context, msg Message) error {
		var payload map[string]int
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		mu.Lock()
		seen = append(seen, payload["seq"])
		if len(seen) == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("messages never consumed")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, got := range seen {
		if got != i {
			t.Errorf("message %d carried seq %d, out of order", i, got)
		}
	}
}

func TestMemoryQueueCloseUnblocksConsumer(t *testing.T) {
	q := NewMemoryQueue(1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), func(ctx context.Context, msg Message) error { return nil })
	}()

	q.Close()
	q.Close() // repeated close is safe

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consume returned %v, want nil on close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never unblocked")
	}
}

func TestMemoryQueueEnqueueAfterCloseRejects(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "add_plate", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	// The buffer is full and nobody consumes, so the closed signal wins.
	if err := q.Enqueue(ctx, "add_plate", nil); err == nil {
		t.Error("enqueue after close must fail")
	}
}
