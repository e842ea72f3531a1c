package ratelimit

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Window is the length of one counting window.
const Window = time.Minute

// Result describes the state of a key's window after a request was counted.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key in fixed one-minute windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Result, error)
}

func windowStart(now time.Time) time.Time {
	return now.Truncate(Window)
}

func windowKey(key string, start time.Time) string {
	return fmt.Sprintf("rl:%s:%d", key, start.Unix())
}

func result(count, limit int, start time.Time) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   start.Add(Window),
	}
}

func unlimited(now time.Time) Result {
	return Result{Allowed: true, Limit: 0, Remaining: -1, ResetAt: windowStart(now).Add(Window)}
}

// MemoryLimiter keeps counters in process.
type MemoryLimiter struct {
	counters *gocache.Cache
	now      func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: gocache.New(2*Window, Window),
		now:      time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int) (Result, error) {
	now := m.now()
	if limit <= 0 {
		return unlimited(now), nil
	}
	start := windowStart(now)
	k := windowKey(key, start)

	// Add fails when the window already exists; fall through to the increment.
	if err := m.counters.Add(k, 1, 2*Window); err == nil {
		return result(1, limit, start), nil
	}
	count, err := m.counters.IncrementInt(k, 1)
	if err != nil {
		// Expired between Add and IncrementInt; start the window again.
		m.counters.Set(k, 1, 2*Window)
		count = 1
	}
	return result(count, limit, start), nil
}

// RedisLimiter shares counters across instances through redis.
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Result, error) {
	now := r.now()
	if limit <= 0 {
		return unlimited(now), nil
	}
	start := windowStart(now)
	k := windowKey(key, start)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit counter: %w", err)
	}
	return result(int(incr.Val()), limit, start), nil
}
