// ABOUTME: Redis pub/sub Bus implementation using go-redis
// ABOUTME: Lets the gateway and function workers run as separate processes

package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on Redis pub/sub channels. Every topic maps to one
// Redis channel under the configured prefix.
type RedisBus struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisConfig contains configuration options for the Redis bus.
type RedisConfig struct {
	// Client is the Redis client to use. If nil, a default client pointed at
	// Addr is created.
	Client redis.UniversalClient
	// Addr is used only when Client is nil. Defaults to localhost:6379.
	Addr string
	// KeyPrefix is prepended to all channel names. Defaults to "mcp:bus:".
	KeyPrefix string
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(cfg RedisConfig) *RedisBus {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "mcp:bus:"
	}

	return &RedisBus{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Publish sends payload to the Redis channel backing topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription for topic. The subscription is
// confirmed before Subscribe returns, so messages published afterwards are
// never missed.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(topic))

	// Wait for the subscription to be established.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	return &redisSub{pubsub: pubsub}, nil
}

// Close closes the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) channel(topic string) string {
	return b.keyPrefix + topic
}

type redisSub struct {
	pubsub *redis.PubSub
}

func (s *redisSub) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSub) Close() error {
	return s.pubsub.Close()
}
