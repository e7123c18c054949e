package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSnapshotTTL = 30 * time.Second
	keyPrefix          = "cart:"
)

// RedisCache keeps snapshots as JSON. Every write picks a TTL between ttl and
// ttl*1.2 so sessions loaded together do not expire together.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl, jitter: ttl / 5}
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey(sessionID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read cached snapshot: %w", err)
	}

	snapshot := new(domain.Snapshot)
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return snapshot, nil
}

func (c *RedisCache) Set(ctx context.Context, sessionID string, snapshot *domain.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(sessionID), raw, c.expiry()).Err(); err != nil {
		return fmt.Errorf("write cached snapshot: %w", err)
	}
	return nil
}

// Delete is a no-op for a session that has nothing cached.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("drop cached snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) expiry() time.Duration {
	if c.jitter <= 0 {
		return c.ttl
	}
	return c.ttl + rand.N(c.jitter)
}

func snapshotKey(sessionID string) string {
	return keyPrefix + sessionID
}
