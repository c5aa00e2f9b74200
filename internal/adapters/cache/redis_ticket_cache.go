package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"parcel-queue-service/internal/domain"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// Redis-backed cache of parcel summaries keyed by tracking number.
// Entries expire on TTL; every status transition invalidates eagerly, so
// staleness is bounded by direct writes that bypass the lifecycle
// manager. The store stays authoritative.
type RedisTicketCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisTicketCache(client *redis.Client, ttl time.Duration) *RedisTicketCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTicketCache{Client: client, TTL: ttl}
}

func cacheKey(tracking string) string {
	return "parcel:" + tracking
}

func (c *RedisTicketCache) Get(ctx context.Context, tracking string) (*domain.Parcel, bool, error) {
	if c.Client == nil {
		return nil, false, errors.New("ticket cache: client is nil")
	}

	raw, err := c.Client.Get(ctx, cacheKey(tracking)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ticket cache: get %q: %w", tracking, err)
	}

	p := &domain.Parcel{}
	if err := json.Unmarshal(raw, p); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, false, fmt.Errorf("ticket cache: decode %q: %w", tracking, err)
	}
	return p, true, nil
}

func (c *RedisTicketCache) Set(ctx context.Context, p *domain.Parcel) error {
	if c.Client == nil {
		return errors.New("ticket cache: client is nil")
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ticket cache: encode %q: %w", p.TrackingNumber, err)
	}
	if err := c.Client.Set(ctx, cacheKey(p.TrackingNumber), raw, c.TTL).Err(); err != nil {
		return fmt.Errorf("ticket cache: set %q: %w", p.TrackingNumber, err)
	}
	return nil
}

func (c *RedisTicketCache) Invalidate(ctx context.Context, tracking string) error {
	if c.Client == nil {
		return errors.New("ticket cache: client is nil")
	}

	if err := c.Client.Del(ctx, cacheKey(tracking)).Err(); err != nil {
		return fmt.Errorf("ticket cache: invalidate %q: %w", tracking, err)
	}
	return nil
}
