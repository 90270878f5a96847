package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedisLimiter(t *testing.T, clock *fakeClock) (*redisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRedisLimiter(client, 5, time.Minute, zerolog.Nop()).(*redisLimiter)
	rl.now = clock.Now
	t.Cleanup(func() { rl.Close() })
	return rl, mr
}

func limiters(t *testing.T) map[string]func(*fakeClock) Limiter {
	return map[string]func(*fakeClock) Limiter{
		"memory": func(c *fakeClock) Limiter { return newMemoryLimiter(5, time.Minute, c.Now) },
		"redis": func(c *fakeClock) Limiter {
			rl, _ := newTestRedisLimiter(t, c)
			return rl
		},
	}
}

func TestLimiter_SixthAttemptDenied(t *testing.T) {
	for name, build := range limiters(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			rl := build(clock)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				d := rl.Allow(ctx, "user:alice")
				require.True(t, d.Allowed, "attempt %d", i+1)
				assert.Equal(t, 4-i, d.Remaining)
				clock.Advance(time.Second)
			}

			d := rl.Allow(ctx, "user:alice")
			assert.False(t, d.Allowed)
			assert.Equal(t, 55*time.Second, d.RetryAfter)

			// Other keys are unaffected.
			assert.True(t, rl.Allow(ctx, "user:bob").Allowed)
		})
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	for name, build := range limiters(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			rl := build(clock)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				require.True(t, rl.Allow(ctx, "ip:10.0.0.1").Allowed)
				clock.Advance(10 * time.Second)
			}
			// 50s elapsed: the first event is still inside the window.
			assert.False(t, rl.Allow(ctx, "ip:10.0.0.1").Allowed)

			// 61s after the first event exactly one slot is free again.
			clock.Advance(11 * time.Second)
			assert.True(t, rl.Allow(ctx, "ip:10.0.0.1").Allowed)
			assert.False(t, rl.Allow(ctx, "ip:10.0.0.1").Allowed)
		})
	}
}

func TestLimiter_DeniedAttemptsNotRecorded(t *testing.T) {
	for name, build := range limiters(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			rl := build(clock)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				require.True(t, rl.Allow(ctx, "user:carol").Allowed)
			}
			for i := 0; i < 20; i++ {
				clock.Advance(time.Second)
				require.False(t, rl.Allow(ctx, "user:carol").Allowed)
			}

			clock.Advance(41 * time.Second)
			d := rl.Allow(ctx, "user:carol")
			assert.True(t, d.Allowed)
			assert.Equal(t, 4, d.Remaining)
		})
	}
}

func TestMemoryLimiter_ConcurrentKeys(t *testing.T) {
	rl := newMemoryLimiter(5, time.Minute, time.Now)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed = map[string]int{}
	)
	for k := 0; k < 20; k++ {
		key := fmt.Sprintf("user:%d", k)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if rl.Allow(ctx, key).Allowed {
					mu.Lock()
					allowed[key]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	for k := 0; k < 20; k++ {
		assert.Equal(t, 5, allowed[fmt.Sprintf("user:%d", k)])
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	rl := newMemoryLimiter(5, time.Minute, clock.Now)
	ctx := context.Background()

	rl.Allow(ctx, "user:a")
	rl.Allow(ctx, "user:b")
	clock.Advance(30 * time.Second)
	rl.Allow(ctx, "user:b")

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, rl.sweep())
	assert.Equal(t, 0, rl.sweep())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, rl.sweep())
}

func TestMemoryLimiter_Disabled(t *testing.T) {
	rl := newMemoryLimiter(0, time.Minute, time.Now)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(context.Background(), "user:x").Allowed)
	}
	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	rl, mr := newTestRedisLimiter(t, newFakeClock())
	mr.Close()

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(context.Background(), "user:alice").Allowed)
	}
}

func TestRedisLimiter_KeyExpires(t *testing.T) {
	clock := newFakeClock()
	rl, mr := newTestRedisLimiter(t, clock)

	rl.Allow(context.Background(), "user:dave")
	assert.True(t, mr.Exists(redisKeyPrefix+"user:dave"))

	mr.FastForward(61 * time.Second)
	assert.False(t, mr.Exists(redisKeyPrefix+"user:dave"))
}

func TestRedisLimiter_ConcurrentSameKey(t *testing.T) {
	rl, mr := newTestRedisLimiter(t, newFakeClock())
	rl.timeout = 5 * time.Second

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(context.Background(), "user:erin").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), allowed.Load())
	members, err := mr.ZMembers(redisKeyPrefix + "user:erin")
	require.NoError(t, err)
	assert.Len(t, members, 5)
}

func TestSourceKey(t *testing.T) {
	assert.Equal(t, "ip:192.0.2.1", SourceKey("192.0.2.1:5555"))
	assert.Equal(t, "ip:2001:db8::1", SourceKey("[2001:db8::1]:443"))
	assert.Equal(t, "ip:192.0.2.9", SourceKey("192.0.2.9"))
	assert.Equal(t, "ip:unknown", SourceKey(""))
	assert.Equal(t, "user:alice", UserKey("alice"))
}

func TestNewLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{name: "memory", cfg: config.Config{RateLimitBackend: config.BackendMemory, LoginRateLimit: 5, LoginRateWindow: time.Minute}},
		{name: "redis", cfg: config.Config{RateLimitBackend: config.BackendRedis, RedisAddr: mr.Addr(), LoginRateLimit: 5, LoginRateWindow: time.Minute}},
		{name: "unknown", cfg: config.Config{RateLimitBackend: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := fxtest.NewLifecycle(t)
			limiter, err := NewLimiter(params{Config: &tt.cfg, Logger: zerolog.Nop(), Lifecycle: lc})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, limiter.Allow(context.Background(), "user:x").Allowed)
			lc.RequireStart().RequireStop()
		})
	}
}
