package ratelimit

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
)

type (
	// Decision is the answer to a single Allow call.
	Decision struct {
		Allowed    bool
		Remaining  int
		RetryAfter time.Duration
	}

	// Limiter counts events per key in a sliding window. Denied events are not recorded.
	Limiter interface {
		Allow(ctx context.Context, key string) Decision
		Close() error
	}

	params struct {
		fx.In

		Config    *config.Config
		Logger    zerolog.Logger
		Lifecycle fx.Lifecycle
	}
)

// NewLimiter builds the login limiter selected by RATE_LIMIT_BACKEND.
func NewLimiter(p params) (Limiter, error) {
	logger := p.Logger.With().Str("component", "ratelimit").Logger()
	limit, window := p.Config.LoginRateLimit, p.Config.LoginRateWindow

	var limiter Limiter
	switch p.Config.RateLimitBackend {
	case config.BackendMemory:
		limiter = NewMemoryLimiter(limit, window)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Config.RedisAddr,
			Password: p.Config.RedisPassword,
			DB:       p.Config.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", p.Config.RedisAddr).Msg("Redis unreachable, login attempts are not limited until it recovers")
		}
		limiter = NewRedisLimiter(client, limit, window, logger)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", p.Config.RateLimitBackend)
	}

	logger.Info().
		Str("backend", p.Config.RateLimitBackend).
		Int("limit", limit).
		Dur("window", window).
		Msg("Login rate limiter ready")

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return limiter.Close() },
	})
	return limiter, nil
}

// UserKey is the limiter key for a normalized username.
func UserKey(usernameKey string) string {
	return "user:" + usernameKey
}

// SourceKey is the limiter key for a request's remote address, port stripped.
func SourceKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}
