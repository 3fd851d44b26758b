package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Throttle decides whether a notification for key may fire now.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalThrottle is an in-process token bucket per key.
// Keys idle for longer than the idle TTL are evicted on access.
type LocalThrottle struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	every    time.Duration
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
	now      func() time.Time
}

// NewLocalThrottle allows burst notifications per key, refilled one per every.
func NewLocalThrottle(every time.Duration, burst int) *LocalThrottle {
	if burst < 1 {
		burst = 1
	}
	return &LocalThrottle{
		limiters: make(map[string]*limiterEntry),
		every:    every,
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow never blocks.
func (t *LocalThrottle) Allow(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.evictIdle(now)

	entry, ok := t.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.limiters[key] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1), nil
}

// Len returns the number of tracked keys.
func (t *LocalThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

func (t *LocalThrottle) evictIdle(now time.Time) {
	if now.Sub(t.lastGC) < t.idleTTL {
		return
	}
	t.lastGC = now
	for key, entry := range t.limiters {
		if now.Sub(entry.lastSeen) >= t.idleTTL {
			delete(t.limiters, key)
		}
	}
}

// windowScript increments the counter and arms its expiry in one step. Keys
// left without an expiry are re-armed on the next call.
var windowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisThrottle is a fixed-window counter shared by all service instances.
type RedisThrottle struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewRedisThrottle allows limit notifications per key in each window.
func NewRedisThrottle(client *redis.Client, limit int64, window time.Duration) *RedisThrottle {
	if limit < 1 {
		limit = 1
	}
	if window < time.Millisecond {
		window = time.Millisecond
	}
	return &RedisThrottle{
		client: client,
		prefix: "ledger:notify:",
		limit:  limit,
		window: window,
	}
}

// Allow increments the window counter of key.
func (t *RedisThrottle) Allow(ctx context.Context, key string) (bool, error) {
	count, err := windowScript.Run(ctx, t.client, []string{t.prefix + key}, t.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis window counter: %w", err)
	}
	return count <= t.limit, nil
}
