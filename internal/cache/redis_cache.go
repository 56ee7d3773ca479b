package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"paivamoda/backend/internal/domain"
)

const receivablesKey = "paivamoda:receivables"

type RedisReceivablesCache struct {
	client *redis.Client
	key    string
}

func NewRedisReceivablesCache(addr string, password string, db int) *RedisReceivablesCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceivablesCache{client: client, key: receivablesKey}
}

func (c *RedisReceivablesCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceivablesCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceivablesCache) Get(ctx context.Context, asOf domain.Date) (*domain.ReceivablesReport, bool, error) {
	val, err := c.client.HGet(ctx, c.key, asOf.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.ReceivablesReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

// Set stores the report under its as-of day. The TTL applies to the whole
// hash, so a busy day keeps extending the lifetime of older entries until the
// next invalidation.
func (c *RedisReceivablesCache) Set(ctx context.Context, report *domain.ReceivablesReport, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key, report.AsOf.String(), payload)
	if ttl > 0 {
		pipe.Expire(ctx, c.key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisReceivablesCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
