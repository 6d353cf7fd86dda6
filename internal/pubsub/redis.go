package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis broker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBroker fans messages out across instances with Redis pub/sub. Every
// topic maps to a Redis channel of the same name.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

var (
	_ Broker = (*RedisBroker)(nil)
	_ Pinger = (*RedisBroker)(nil)
)

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis broker: ping %s: %w", cfg.Addr, err)
	}
	return NewRedisBrokerFromClient(client), nil
}

// NewRedisBrokerFromClient wraps an existing client. Close closes it.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		logger: slog.Default().With("component", "redis_broker"),
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Client exposes the underlying connection for other Redis-backed services.
func (b *RedisBroker) Client() *redis.Client { return b.client }

// Ping checks the Redis server answers.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("redis broker: encode: %w", err)
	}
	if err := b.client.Publish(ctx, msg.Topic, data).Err(); err != nil {
		return fmt.Errorf("redis broker: publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning, so
// a publish issued afterwards is not missed.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("redis broker: closed")
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis broker: subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	go b.consume(ctx, topic, ps, handler)
	return nil
}

func (b *RedisBroker) consume(ctx context.Context, topic string, ps *redis.PubSub, handler Handler) {
	defer func() {
		b.mu.Lock()
		delete(b.subs, ps)
		b.mu.Unlock()
		_ = ps.Close()
		b.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := decodeMessage([]byte(m.Payload))
			if err != nil {
				b.logger.Warn("Dropping undecodable message", "topic", topic, "error", err)
				continue
			}
			if err := handler(ctx, msg); err != nil {
				b.logger.Error("Failed to handle message", "topic", topic, "error", err)
			}
		}
	}
}

// Close ends every subscription and closes the client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return b.client.Close()
}
