package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	retryKeyPrefix = "eventrunner:retries:"
	retryKeyTTL    = 24 * time.Hour
)

// RetryTracker counts retryable failures per event across runner instances.
type RetryTracker interface {
	Incr(ctx context.Context, eventID int64) (int, error)
	Clear(ctx context.Context, eventID int64) error
}

type RedisRetryTracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisRetryTracker(client redis.UniversalClient) *RedisRetryTracker {
	return &RedisRetryTracker{client: client, ttl: retryKeyTTL}
}

func retryKey(eventID int64) string {
	return fmt.Sprintf("%s%d", retryKeyPrefix, eventID)
}

func (t *RedisRetryTracker) Incr(ctx context.Context, eventID int64) (int, error) {
	key := retryKey(eventID)
	var incr *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (t *RedisRetryTracker) Clear(ctx context.Context, eventID int64) error {
	return t.client.Del(ctx, retryKey(eventID)).Err()
}
