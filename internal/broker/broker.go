// Package broker is the live-update fabric: a topic-based in-process
// pub/sub with best-effort fan-out to a redis backplane so dashboards on
// other processes see the same stream.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type subscriber struct {
	// ch is never closed; publishers may be blocked sending on it at any
	// time. done signals the end of the subscription instead.
	ch     chan []byte
	done   chan struct{}
	topic  string
	closed bool
}

// Subscription delivers future publications on C until Close is called or
// the broker drops the subscriber for being too slow; either way Done is
// closed. Historic messages are never replayed.
type Subscription struct {
	C <-chan []byte

	b   *Broker
	sub *subscriber
}

func (s *Subscription) Close() {
	s.b.unsubscribe(s.sub)
}

// Done is closed once the subscriber has been removed from the broker.
func (s *Subscription) Done() <-chan struct{} {
	return s.sub.done
}

type Broker struct {
	mu   sync.Mutex
	subs map[string][]*subscriber

	backplane   *redis.Client
	sendTimeout time.Duration
	bufSize     int
	log         zerolog.Logger
}

// New builds a broker. backplane may be nil; fan-out then stays in-process.
func New(backplane *redis.Client, sendTimeout time.Duration, bufSize int, log zerolog.Logger) *Broker {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broker{
		subs:        make(map[string][]*subscriber),
		backplane:   backplane,
		sendTimeout: sendTimeout,
		bufSize:     bufSize,
		log:         log,
	}
}

// Publish serializes payload once and hands it to every in-process
// subscriber of the topic plus the backplane. A subscriber that cannot
// accept within the send timeout is disconnected; backplane failures are
// logged and swallowed. Events are never lost because a dashboard is slow.
func (b *Broker) Publish(ctx context.Context, topic string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("broker: marshal payload")
		return
	}
	b.publishRaw(ctx, topic, raw)
}

func (b *Broker) publishRaw(ctx context.Context, topic string, raw []byte) {
	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- raw:
			continue
		case <-s.done:
			continue
		default:
		}
		// Buffer full: give the subscriber one bounded grace period,
		// then cut it loose.
		select {
		case s.ch <- raw:
		case <-s.done:
		case <-time.After(b.sendTimeout):
			b.log.Warn().Str("topic", topic).Msg("broker: dropping slow subscriber")
			b.unsubscribe(s)
		}
	}

	if b.backplane != nil {
		if err := b.backplane.Publish(ctx, topic, raw).Err(); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("broker: backplane publish failed")
		}
	}
}

// Subscribe registers for future publications on topic.
func (b *Broker) Subscribe(topic string) *Subscription {
	s := &subscriber{
		ch:    make(chan []byte, b.bufSize),
		done:  make(chan struct{}),
		topic: topic,
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return &Subscription{C: s.ch, b: b, sub: s}
}

func (b *Broker) unsubscribe(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target.closed {
		return
	}
	list := b.subs[target.topic]
	for i, s := range list {
		if s == target {
			b.subs[target.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	target.closed = true
	close(target.done)
}

// SubscriberCount is used by tests and the health endpoint.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
