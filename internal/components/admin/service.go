package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
	"github.com/andrasnagy-data/gatekeep/internal/components/session"
)

// ErrUnauthorized covers every reason a caller may not list users.
var ErrUnauthorized = errors.New("unauthorized")

type (
	servicer interface {
		ListUsers(ctx context.Context, tokenID string) ([]UserSummary, error)
	}

	// validator is the part of the session issuer the gateway relies on.
	validator interface {
		Validate(ctx context.Context, tokenID string) (*session.Session, error)
	}

	service struct {
		store    credential.Store
		sessions validator
		logger   zerolog.Logger
	}

	params struct {
		fx.In

		Store  credential.Store
		Issuer *session.Issuer
		Logger zerolog.Logger
	}
)

func NewGatewayService(p params) servicer {
	return newService(p.Store, p.Issuer, p.Logger)
}

func newService(store credential.Store, sessions validator, logger zerolog.Logger) *service {
	return &service{
		store:    store,
		sessions: sessions,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// ListUsers returns every stored username with its creation time to a caller holding a live admin session.
func (s *service) ListUsers(ctx context.Context, tokenID string) ([]UserSummary, error) {
	if tokenID == "" {
		return nil, ErrUnauthorized
	}

	sess, err := s.sessions.Validate(ctx, tokenID)
	if err != nil {
		if errors.Is(err, session.ErrUnknown) || errors.Is(err, session.ErrExpired) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if sess.Role != credential.RoleAdmin {
		s.logger.Warn().Str("user_id", sess.UserID.String()).Msg("Non-admin session tried to list users")
		return nil, ErrUnauthorized
	}

	users, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, UserSummary{Username: u.Username, CreatedAt: u.CreatedAt})
	}
	return summaries, nil
}
