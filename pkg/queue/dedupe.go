package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers job keys that were already handled.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryDeduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (d *MemoryDeduper) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.cleanupLocked(now)

	_, ok := d.entries[key]
	return ok, nil
}

func (d *MemoryDeduper) MarkSeen(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[key] = d.now()
	return nil
}

func (d *MemoryDeduper) cleanupLocked(now time.Time) {
	for key, seenAt := range d.entries {
		if now.Sub(seenAt) > d.ttl {
			delete(d.entries, key)
		}
	}
}

// RedisDeduper shares seen keys across consumer instances.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, d.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return d.client.Set(ctx, d.prefix+key, 1, d.ttl).Err()
}
