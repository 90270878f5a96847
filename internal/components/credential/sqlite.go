package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteStore implements Store on a SQLite database file.
type sqliteStore struct {
	db        *sql.DB
	writeLock *sync.Mutex // sqlite allows a single writer
	now       func() time.Time
}

func NewSQLiteStore(db *sql.DB) Store {
	return &sqliteStore{
		db:        db,
		writeLock: new(sync.Mutex),
		now:       time.Now,
	}
}

const sqliteUserColumns = `id, username, username_key, password_hash, salt, algorithm_tag, role, created_at`

func (s *sqliteStore) Lookup(ctx context.Context, username string) (*UserRecord, error) {
	stmt := `SELECT ` + sqliteUserColumns + ` FROM users WHERE username_key = ?`

	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, stmt, NormalizeUsername(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (s *sqliteStore) Create(ctx context.Context, user UserRecord) (*UserRecord, error) {
	user, err := newRecord(user, s.now())
	if err != nil {
		return nil, err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	stmt := `INSERT INTO users (` + sqliteUserColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		user.ID.String(),
		user.Username,
		user.UsernameKey,
		user.PasswordHash,
		user.Salt,
		user.AlgorithmTag,
		string(user.Role),
		user.CreatedAt.UnixMicro(),
	)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return nil, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
			}
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &user, nil
}

func (s *sqliteStore) UpdatePassword(ctx context.Context, userID uuid.UUID, hash, salt []byte, algorithmTag string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	stmt := `UPDATE users SET password_hash = ?, salt = ?, algorithm_tag = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, stmt, hash, salt, algorithmTag, userID.String())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]UserRecord, error) {
	stmt := `SELECT ` + sqliteUserColumns + ` FROM users ORDER BY created_at, username`

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
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

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*UserRecord, error) {
	var (
		user      UserRecord
		id        string
		role      string
		createdAt int64
	)
	err := row.Scan(
		&id,
		&user.Username,
		&user.UsernameKey,
		&user.PasswordHash,
		&user.Salt,
		&user.AlgorithmTag,
		&role,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	user.Role = Role(role)
	user.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &user, nil
}
