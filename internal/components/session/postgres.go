package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andrasnagy-data/gatekeep/internal/components/credential"
)

type (
	dbtx interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}

	postgresStore struct {
		pool dbtx
	}
)

// NewPostgresStore returns a Store on the sessions table, shared by every instance using the database.
func NewPostgresStore(pool dbtx) Store {
	return &postgresStore{pool: pool}
}

func (r *postgresStore) Insert(ctx context.Context, digest []byte, s Session) error {
	stmt := `
	INSERT INTO sessions (token_hash, user_id, role, issued_at, expires_at, max_expires_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, stmt, digest, s.UserID, string(s.Role), s.IssuedAt, s.ExpiresAt, s.MaxExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *postgresStore) Get(ctx context.Context, digest []byte) (Session, error) {
	stmt := `
	SELECT user_id, role, issued_at, expires_at, max_expires_at
	FROM sessions
	WHERE token_hash = $1`

	var (
		s    Session
		role string
	)
	err := r.pool.QueryRow(ctx, stmt, digest).Scan(&s.UserID, &role, &s.IssuedAt, &s.ExpiresAt, &s.MaxExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrUnknown
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	s.Role = credential.Role(role)
	return s, nil
}

func (r *postgresStore) Touch(ctx context.Context, digest []byte, expiresAt time.Time) error {
	stmt := `UPDATE sessions SET expires_at = GREATEST(expires_at, $2) WHERE token_hash = $1`

	result, err := r.pool.Exec(ctx, stmt, digest, expiresAt)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUnknown
	}
	return nil
}

func (r *postgresStore) Delete(ctx context.Context, digest []byte) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, digest); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *postgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	stmt := `DELETE FROM sessions WHERE expires_at <= $1 OR max_expires_at <= $1`

	result, err := r.pool.Exec(ctx, stmt, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(result.RowsAffected()), nil
}
