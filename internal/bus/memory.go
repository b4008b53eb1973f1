// ABOUTME: In-memory Bus implementation using channel fan-out
// ABOUTME: Suitable for single-process deployments and tests

package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned by operations on a closed bus or subscription.
var ErrBusClosed = errors.New("bus closed")

// subscriberBuffer is the per-subscription channel capacity. Publish drops
// messages for subscribers that have fallen this far behind rather than
// blocking the publisher.
const subscriberBuffer = 16

// MemoryBus is a channel-based Bus for a single process. State is local, so
// it cannot serve a gateway and worker in separate processes.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	bus   *MemoryBus
	topic string
	ch    chan []byte
	once  sync.Once
	done  chan struct{}
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]map[*memorySub]struct{}),
	}
}

// Publish delivers payload to every current subscriber of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe registers a new subscription for topic.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySub{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, subscriberBuffer),
		done:  make(chan struct{}),
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Close terminates every subscription and rejects further operations.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for topic, subs := range b.topics {
		for sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
		delete(b.topics, topic)
	}
	return nil
}

func (s *memorySub) Next(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.ch:
		return payload, nil
	case <-s.done:
		// Drain anything delivered before close.
		select {
		case payload := <-s.ch:
			return payload, nil
		default:
		}
		return nil, ErrBusClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySub) Close() error {
	s.once.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	return nil
}
