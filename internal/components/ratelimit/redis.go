package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "gatekeep:ratelimit:"

// allowScript trims the window, then records the event only if it fits, so an
// over-limit attempt is never visible to concurrent callers.
// ARGV: now (µs), window (µs), limit, member, ttl (ms).
// Returns {allowed, remaining, retry after (µs)}.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, ARGV[5])
	return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// redisLimiter keeps a sorted set of accepted event times per key, scored in microseconds.
type redisLimiter struct {
	client  *redis.Client
	logger  zerolog.Logger
	limit   int
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewRedisLimiter returns a limiter shared by every instance using the same Redis.
// Redis errors fail open.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, logger zerolog.Logger) Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &redisLimiter{
		client:  client,
		logger:  logger,
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
}

func (rl *redisLimiter) Allow(ctx context.Context, key string) Decision {
	if rl.limit <= 0 {
		return Decision{Allowed: true}
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	now := rl.now()
	res, err := allowScript.Run(ctx, rl.client,
		[]string{redisKeyPrefix + key},
		now.UnixMicro(),
		rl.window.Microseconds(),
		rl.limit,
		uuid.NewString(),
		max(rl.window.Milliseconds(), 1),
	).Int64Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected script reply %v", res)
	}
	if err != nil {
		rl.logRedisError("allow", err)
		return Decision{Allowed: true}
	}

	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(res[2]) * time.Microsecond}
}

func (rl *redisLimiter) Close() error {
	return rl.client.Close()
}

func (rl *redisLimiter) logRedisError(op string, err error) {
	rl.logger.Error().Err(err).Str("op", op).Msg("Redis rate limiter error, allowing request")
}
