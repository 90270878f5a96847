package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/components/password"
	"github.com/andrasnagy-data/gatekeep/internal/components/ratelimit"
	"github.com/andrasnagy-data/gatekeep/internal/components/session"
	"github.com/andrasnagy-data/gatekeep/internal/shared/metrics"
)

type (
	servicer interface {
		Authenticate(ctx context.Context, username, plaintext, source string) (Outcome, error)
		Login(ctx context.Context, username, plaintext, source string) (Outcome, *session.Token, error)
		Logout(ctx context.Context, tokenID string) error
		SessionLifetime() time.Duration
	}

	service struct {
		store   credential.Store
		hasher  *password.Hasher
		limiter ratelimit.Limiter
		issuer  *session.Issuer
		metrics *metrics.Metrics
		logger  zerolog.Logger
	}

	params struct {
		fx.In

		Store   credential.Store
		Hasher  *password.Hasher
		Limiter ratelimit.Limiter
		Issuer  *session.Issuer
		Metrics *metrics.Metrics `optional:"true"`
		Logger  zerolog.Logger
	}
)

func NewAuthService(p params) servicer {
	return &service{
		store:   p.Store,
		hasher:  p.Hasher,
		limiter: p.Limiter,
		issuer:  p.Issuer,
		metrics: p.Metrics,
		logger:  p.Logger.With().Str("component", "auth").Logger(),
	}
}

// Authenticate checks username and plaintext for a request coming from source.
// The rate limit is consulted before the store or the hasher are touched, so a
// limited caller learns nothing about the password. A missing user costs one
// full hash against a decoy record.
func (s *service) Authenticate(ctx context.Context, username, plaintext, source string) (Outcome, error) {
	outcome, err := s.authenticate(ctx, username, plaintext, source)
	if err != nil {
		s.metrics.LoginAttempt("error")
		return outcome, err
	}
	s.metrics.LoginAttempt(metricOutcome(outcome.Kind))
	return outcome, nil
}

// metricOutcome folds unknown user and wrong password into one label: the
// counters are scraped without authentication.
func metricOutcome(kind OutcomeKind) string {
	switch kind {
	case OutcomeSuccess, OutcomeRateLimited:
		return kind.String()
	default:
		return "failed"
	}
}

func (s *service) authenticate(ctx context.Context, username, plaintext, source string) (Outcome, error) {
	key := credential.NormalizeUsername(username)

	if d := s.limiter.Allow(ctx, ratelimit.SourceKey(source)); !d.Allowed {
		return Outcome{Kind: OutcomeRateLimited, RetryAfter: d.RetryAfter}, nil
	}
	if d := s.limiter.Allow(ctx, ratelimit.UserKey(key)); !d.Allowed {
		return Outcome{Kind: OutcomeRateLimited, RetryAfter: d.RetryAfter}, nil
	}

	user, err := s.store.Lookup(ctx, username)
	if errors.Is(err, credential.ErrNotFound) {
		s.hasher.VerifyDecoy(plaintext)
		return Outcome{Kind: OutcomeUserNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup user: %w", err)
	}

	if !s.hasher.Verify(plaintext, user.Salt, user.PasswordHash, user.AlgorithmTag) {
		return Outcome{Kind: OutcomeInvalidCredentials}, nil
	}

	if s.hasher.NeedsRehash(user.AlgorithmTag) {
		s.rehash(ctx, user, plaintext)
	}

	return Outcome{Kind: OutcomeSuccess, UserID: user.ID, Role: user.Role}, nil
}

// Login authenticates and, on success, issues a session token.
func (s *service) Login(ctx context.Context, username, plaintext, source string) (Outcome, *session.Token, error) {
	outcome, err := s.Authenticate(ctx, username, plaintext, source)
	if err != nil || outcome.Kind != OutcomeSuccess {
		return outcome, nil, err
	}

	token, err := s.issuer.Issue(ctx, outcome.UserID, outcome.Role)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("issue session: %w", err)
	}
	return outcome, token, nil
}

func (s *service) Logout(ctx context.Context, tokenID string) error {
	return s.issuer.Revoke(ctx, tokenID)
}

func (s *service) SessionLifetime() time.Duration {
	return s.issuer.MaxLifetime()
}

// rehash upgrades a record to the current algorithm. Failures are logged and never fail the login.
func (s *service) rehash(ctx context.Context, user *credential.UserRecord, plaintext string) {
	logger := s.logger.With().Str("user_id", user.ID.String()).Str("from", user.AlgorithmTag).Logger()

	salt, err := s.hasher.NewSalt()
	if err != nil {
		logger.Warn().Err(err).Msg("Rehash skipped: could not generate salt")
		return
	}
	digest := s.hasher.Hash(plaintext, salt)
	if err := s.store.UpdatePassword(ctx, user.ID, digest, salt, s.hasher.Tag()); err != nil {
		logger.Warn().Err(err).Msg("Rehash failed")
		return
	}
	logger.Info().Str("to", s.hasher.Tag()).Msg("Password rehashed")
}
