package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	Version     string `env:"VERSION" envDefault:"0.1.0"`
	Port        int    `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// Credential store
	StoreDriver  string        `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"users.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`

	// Password hashing
	Argon2Time    uint32 `env:"ARGON2_TIME" envDefault:"1"`
	Argon2Memory  uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Threads uint8  `env:"ARGON2_THREADS" envDefault:"4"`

	// Login rate limiting
	LoginRateLimit    int           `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	LoginRateWindow   time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"60s"`
	RateLimitBackend  string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Sessions
	SessionBackend       string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SessionMaxLifetime   time.Duration `env:"SESSION_MAX_LIFETIME" envDefault:"12h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	CookieSecure         bool          `env:"COOKIE_SECURE" envDefault:"true"`

	// Redirect targets after a login attempt. An empty failure target means
	// failures are answered with 401 instead of a redirect.
	LoginSuccessRedirect string `env:"LOGIN_SUCCESS_REDIRECT" envDefault:"/welcome.html"`
	LoginFailureRedirect string `env:"LOGIN_FAILURE_REDIRECT"`
}

func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsEnvProd() bool {
	if c.Environment == "prod" && c.SentryDSN != "" {
		return true
	}
	return false
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.SessionBackend {
	case BackendMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres sessions"))
		}
		if c.StoreDriver != DriverPostgres {
			errs = append(errs, errors.New("postgres sessions reference the users table and need STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}

	switch c.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}

	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.LoginRateLimit <= 0 || c.LoginRateWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_LIMIT and LOGIN_RATE_WINDOW must be positive"))
	}
	if c.SessionIdleTimeout <= 0 || c.SessionMaxLifetime <= 0 {
		errs = append(errs, errors.New("session timeouts must be positive"))
	}
	if c.SessionSweepInterval <= 0 {
		errs = append(errs, errors.New("SESSION_SWEEP_INTERVAL must be positive"))
	}
	if c.SessionIdleTimeout > c.SessionMaxLifetime {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT cannot exceed SESSION_MAX_LIFETIME"))
	}
	if c.Argon2Time == 0 || c.Argon2Memory == 0 || c.Argon2Threads == 0 {
		errs = append(errs, errors.New("argon2 parameters must be positive"))
	}
	if c.LoginSuccessRedirect == "" {
		errs = append(errs, errors.New("LOGIN_SUCCESS_REDIRECT is required"))
	}

	return errors.Join(errs...)
}
