package ratelimit

import (
	"context"
	"hash/maphash"
	"sync"
	"time"
)

const shardCount = 64

type (
	memoryLimiter struct {
		limit  int
		window time.Duration
		seed   maphash.Seed
		shards [shardCount]*shard
		now    func() time.Time

		stopCh chan struct{}
		once   sync.Once
	}

	shard struct {
		mu      sync.Mutex
		buckets map[string]*bucket
	}

	// bucket holds the accepted event times of one key, oldest first.
	bucket struct {
		mu     sync.Mutex
		events []time.Time
	}
)

// NewMemoryLimiter returns an in-process limiter. Idle keys are dropped once per window.
func NewMemoryLimiter(limit int, window time.Duration) Limiter {
	rl := newMemoryLimiter(limit, window, time.Now)
	go rl.sweepLoop()
	return rl
}

func newMemoryLimiter(limit int, window time.Duration, now func() time.Time) *memoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	rl := &memoryLimiter{
		limit:  limit,
		window: window,
		seed:   maphash.MakeSeed(),
		now:    now,
		stopCh: make(chan struct{}),
	}
	for i := range rl.shards {
		rl.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return rl
}

func (rl *memoryLimiter) Allow(_ context.Context, key string) Decision {
	if rl.limit <= 0 {
		return Decision{Allowed: true}
	}
	now := rl.now()

	s := rl.shardFor(key)
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	// Take the bucket before releasing the shard so a sweep cannot drop it underneath us.
	b.mu.Lock()
	s.mu.Unlock()
	defer b.mu.Unlock()

	b.prune(now.Add(-rl.window))
	if len(b.events) >= rl.limit {
		return Decision{
			Allowed:    false,
			RetryAfter: b.events[0].Add(rl.window).Sub(now),
		}
	}
	b.events = append(b.events, now)
	return Decision{Allowed: true, Remaining: rl.limit - len(b.events)}
}

func (rl *memoryLimiter) Close() error {
	rl.once.Do(func() { close(rl.stopCh) })
	return nil
}

func (rl *memoryLimiter) shardFor(key string) *shard {
	return rl.shards[maphash.String(rl.seed, key)%shardCount]
}

func (rl *memoryLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

// sweep removes buckets with no events inside the window and returns how many were dropped.
func (rl *memoryLimiter) sweep() int {
	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for _, s := range rl.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			b.mu.Lock()
			b.prune(cutoff)
			if len(b.events) == 0 {
				delete(s.buckets, key)
				removed++
			}
			b.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

func (b *bucket) prune(cutoff time.Time) {
	i := 0
	for i < len(b.events) && !b.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}
