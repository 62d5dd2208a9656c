package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	seq     uint64
	now     func() time.Time
}

type memoryEntry struct {
	token     uint64
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	if _, ok := l.entries[key]; ok {
		return nil, ErrHeld
	}
	l.seq++
	l.entries[key] = memoryEntry{token: l.seq, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: l.seq}, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	return ok && l.now().Before(entry.expiresAt)
}

func (l *MemoryLocker) release(key string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[key]; ok && entry.token == token {
		delete(l.entries, key)
	}
}

func (l *MemoryLocker) cleanupLocked(now time.Time) {
	for key, entry := range l.entries {
		if !now.Before(entry.expiresAt) {
			delete(l.entries, key)
		}
	}
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  uint64
}

func (l *memoryLease) Key() string {
	return l.key
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.locker.release(l.key, l.token)
	return nil
}
