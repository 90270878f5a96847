package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type (
	// dbtx is the part of *pgxpool.Pool the store needs.
	dbtx interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
		Ping(ctx context.Context) error
	}

	postgresStore struct {
		pool dbtx
		now  func() time.Time
	}
)

// NewPostgresStore returns a Store on the users table. The pool is shared and not closed by the store.
func NewPostgresStore(pool dbtx) Store {
	return &postgresStore{pool: pool, now: time.Now}
}

func (r *postgresStore) Lookup(ctx context.Context, username string) (*UserRecord, error) {
	stmt := `
	SELECT id, username, username_key, password_hash, salt, algorithm_tag, role, created_at
	FROM users
	WHERE username_key = $1`

	user, err := scanPostgresUser(r.pool.QueryRow(ctx, stmt, NormalizeUsername(username)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (r *postgresStore) Create(ctx context.Context, user UserRecord) (*UserRecord, error) {
	user, err := newRecord(user, r.now())
	if err != nil {
		return nil, err
	}

	stmt := `
	INSERT INTO users (
		id, username, username_key, password_hash, salt, algorithm_tag, role, created_at
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	)`

	_, err = r.pool.Exec(
		ctx,
		stmt,
		user.ID,
		user.Username,
		user.UsernameKey,
		user.PasswordHash,
		user.Salt,
		user.AlgorithmTag,
		string(user.Role),
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &user, nil
}

func (r *postgresStore) UpdatePassword(ctx context.Context, userID uuid.UUID, hash, salt []byte, algorithmTag string) error {
	stmt := `UPDATE users SET password_hash = $2, salt = $3, algorithm_tag = $4 WHERE id = $1`

	result, err := r.pool.Exec(ctx, stmt, userID, hash, salt, algorithmTag)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresStore) List(ctx context.Context) ([]UserRecord, error) {
	stmt := `
	SELECT id, username, username_key, password_hash, salt, algorithm_tag, role, created_at
	FROM users
	ORDER BY created_at, username`

	rows, err := r.pool.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		user, err := scanPostgresUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *postgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresStore) Close() error {
	return nil
}

func scanPostgresUser(row pgx.Row) (*UserRecord, error) {
	var (
		user UserRecord
		role string
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.UsernameKey,
		&user.PasswordHash,
		&user.Salt,
		&user.AlgorithmTag,
		&role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}
