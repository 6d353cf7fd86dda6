package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cluster aggregates per-instance presence so transitions can be judged
// across every instance serving the same users.
type Cluster interface {
	// Join records the instance for the user and reports whether it is the
	// user's only instance.
	Join(ctx context.Context, userID, instanceID string) (first bool, err error)
	// Leave removes the instance and reports whether none remain.
	Leave(ctx context.Context, userID, instanceID string) (last bool, err error)
	// Refresh extends the lifetime of the user's entry.
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// RedisCluster keeps a set of instance ids per user. Entries expire after
// ttl without a Refresh so a crashed instance does not pin users online.
type RedisCluster struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cluster = (*RedisCluster)(nil)

// NewRedisCluster creates a cluster view. A zero ttl uses DefaultStaleThreshold.
func NewRedisCluster(client *redis.Client, ttl time.Duration) *RedisCluster {
	if ttl <= 0 {
		ttl = DefaultStaleThreshold
	}
	return &RedisCluster{client: client, ttl: ttl}
}

func userKey(userID string) string {
	return "presence:user:" + userID
}

func (c *RedisCluster) Join(ctx context.Context, userID, instanceID string) (bool, error) {
	key := userKey(userID)
	var added *redis.IntCmd
	var card *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, instanceID)
		card = pipe.SCard(ctx, key)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence cluster join: %w", err)
	}
	return added.Val() == 1 && card.Val() == 1, nil
}

func (c *RedisCluster) Leave(ctx context.Context, userID, instanceID string) (bool, error) {
	key := userKey(userID)
	var card *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, key, instanceID)
		card = pipe.SCard(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence cluster leave: %w", err)
	}
	return card.Val() == 0, nil
}

func (c *RedisCluster) Refresh(ctx context.Context, userID string) error {
	if err := c.client.Expire(ctx, userKey(userID), c.ttl).Err(); err != nil {
		return fmt.Errorf("presence cluster refresh: %w", err)
	}
	return nil
}

func (c *RedisCluster) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.SCard(ctx, userKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence cluster lookup: %w", err)
	}
	return n > 0, nil
}
