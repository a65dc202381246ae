package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fleetwatch:device:"

// Client mirrors the watched device's presence so other tools can read it
// without opening their own push channel.
type Client interface {
	SetLastSeen(deviceID string, ts time.Time, ttl time.Duration) error
	SetStatus(deviceID string, status string) error
	SetStreamState(deviceID string, state string) error
	Close() error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisClient(redisURL string, db int) (*RedisCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if db > 0 {
		opts.DB = db
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) SetLastSeen(deviceID string, ts time.Time, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return c.rdb.Set(ctx, keyPrefix+"last_seen:"+deviceID, ts.UnixMilli(), ttl).Err()
}

func (c *RedisCache) SetStatus(deviceID string, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return c.rdb.Set(ctx, keyPrefix+"status:"+deviceID, status, 0).Err()
}

func (c *RedisCache) SetStreamState(deviceID string, state string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return c.rdb.Set(ctx, keyPrefix+"stream:"+deviceID, state, 0).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// IncrWithTTL increments a fixed-window counter. The window starts with the
// first increment.
func (c *RedisCache) IncrWithTTL(key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key = "fleetwatch:rl:" + key
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
