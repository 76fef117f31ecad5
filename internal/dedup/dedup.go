package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window coalesces duplicate live signals: the first occurrence of a key in
// the window is admitted, retries inside the window are dropped.
type Window interface {
	// Admit returns true if the key has not been seen within the window.
	Admit(ctx context.Context, key string) (bool, error)
	// Dropped returns the number of duplicates rejected so far.
	Dropped() int64
}

// RedisWindow is the shared dedup window used in live mode, so restarted or
// parallel consumers still coalesce.
type RedisWindow struct {
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	dropped int64
	mu      sync.Mutex
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisWindow {
	return &RedisWindow{client: client, ttl: ttl, prefix: "sigdedup:"}
}

func (w *RedisWindow) Admit(ctx context.Context, key string) (bool, error) {
	ok, err := w.client.SetNX(ctx, w.prefix+key, 1, w.ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
	return ok, nil
}

func (w *RedisWindow) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// MemoryWindow is the in-process window used in backtests and tests.
type MemoryWindow struct {
	ttl     time.Duration
	mu      sync.Mutex
	seen    map[string]time.Time
	dropped int64
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *MemoryWindow {
	return &MemoryWindow{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (w *MemoryWindow) Admit(ctx context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if at, ok := w.seen[key]; ok && now.Sub(at) < w.ttl {
		w.dropped++
		return false, nil
	}
	w.seen[key] = now
	// Opportunistic cleanup; the key space is tiny.
	for k, at := range w.seen {
		if now.Sub(at) >= w.ttl {
			delete(w.seen, k)
		}
	}
	return true, nil
}

func (w *MemoryWindow) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}
