package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
	"github.com/andrasnagy-data/gatekeep/internal/shared/metrics"
)

const (
	tokenBytes    = 32
	issueAttempts = 3
)

type (
	// Issuer mints, validates and revokes opaque session tokens.
	Issuer struct {
		store       Store
		idle        time.Duration
		maxLifetime time.Duration
		now         func() time.Time
		logger      zerolog.Logger
		metrics     *metrics.Metrics
	}

	Option func(*Issuer)

	params struct {
		fx.In

		Config    *config.Config
		Logger    zerolog.Logger
		Lifecycle fx.Lifecycle
		Pool      *pgxpool.Pool    `optional:"true"`
		Metrics   *metrics.Metrics `optional:"true"`
	}
)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(i *Issuer) { i.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

func New(store Store, idle, maxLifetime time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		store:       store,
		idle:        idle,
		maxLifetime: maxLifetime,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// NewIssuer builds the issuer on the SESSION_BACKEND store and runs the expiry sweep
// for as long as the application is started.
func NewIssuer(p params) (*Issuer, error) {
	logger := p.Logger.With().Str("component", "session").Logger()

	var store Store
	switch p.Config.SessionBackend {
	case config.BackendMemory:
		store = NewMemoryStore()
	case config.DriverPostgres:
		if p.Pool == nil {
			return nil, errors.New("postgres sessions need a database pool")
		}
		store = NewPostgresStore(p.Pool)
	default:
		return nil, fmt.Errorf("unknown session backend %q", p.Config.SessionBackend)
	}

	issuer := New(store, p.Config.SessionIdleTimeout, p.Config.SessionMaxLifetime, WithLogger(logger), WithMetrics(p.Metrics))

	var cancel context.CancelFunc
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				issuer.RunSweeper(ctx, p.Config.SessionSweepInterval)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	logger.Info().
		Str("backend", p.Config.SessionBackend).
		Dur("idle_timeout", p.Config.SessionIdleTimeout).
		Dur("max_lifetime", p.Config.SessionMaxLifetime).
		Msg("Session issuer ready")

	return issuer, nil
}

// MaxLifetime is the absolute lifetime of every issued token.
func (i *Issuer) MaxLifetime() time.Duration {
	return i.maxLifetime
}

// Issue creates a session for userID and returns its token.
func (i *Issuer) Issue(ctx context.Context, userID uuid.UUID, role credential.Role) (*Token, error) {
	now := i.now()
	sess := Session{
		UserID:       userID,
		Role:         role,
		IssuedAt:     now,
		ExpiresAt:    minTime(now.Add(i.idle), now.Add(i.maxLifetime)),
		MaxExpiresAt: now.Add(i.maxLifetime),
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		id, err := newTokenID()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		err = i.store.Insert(ctx, digest(id), sess)
		if errors.Is(err, errDuplicate) {
			i.logger.Warn().Int("attempt", attempt+1).Msg("Session token collision, regenerating")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
		return &Token{ID: id, Session: sess}, nil
	}
	return nil, errors.New("could not generate a unique session token")
}

// Validate returns the live session behind tokenID and slides its idle expiry.
// Expired sessions are removed on the way out.
func (i *Issuer) Validate(ctx context.Context, tokenID string) (*Session, error) {
	if !wellFormed(tokenID) {
		return nil, ErrUnknown
	}
	key := digest(tokenID)

	sess, err := i.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	now := i.now()
	if sess.expiredAt(now) {
		if err := i.store.Delete(ctx, key); err != nil {
			i.logger.Warn().Err(err).Msg("Failed to purge expired session")
		}
		return nil, ErrExpired
	}

	sess.ExpiresAt = minTime(now.Add(i.idle), sess.MaxExpiresAt)
	if err := i.store.Touch(ctx, key, sess.ExpiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Revoke deletes the session behind tokenID. Unknown tokens are not an error.
func (i *Issuer) Revoke(ctx context.Context, tokenID string) error {
	if !wellFormed(tokenID) {
		return nil
	}
	return i.store.Delete(ctx, digest(tokenID))
}

// Sweep removes every expired session and returns how many were dropped.
func (i *Issuer) Sweep(ctx context.Context) (int, error) {
	return i.store.DeleteExpired(ctx, i.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (i *Issuer) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		i.logger.Error().Dur("interval", interval).Msg("Session sweeper disabled: interval must be positive")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := i.Sweep(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					i.logger.Error().Err(err).Msg("Session sweep failed")
				}
				continue
			}
			i.metrics.SessionsSwept(removed)
			if removed > 0 {
				i.logger.Debug().Int("removed", removed).Msg("Expired sessions swept")
			}
		}
	}
}

func newTokenID() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func wellFormed(tokenID string) bool {
	return len(tokenID) == base64.RawURLEncoding.EncodedLen(tokenBytes)
}

func digest(tokenID string) []byte {
	sum := sha256.Sum256([]byte(tokenID))
	return sum[:]
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
