package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrInvalidUser      = errors.New("invalid user record")
)

type (
	// Store owns persisted user records. Lookups are case-insensitive on username.
	Store interface {
		Lookup(ctx context.Context, username string) (*UserRecord, error)
		Create(ctx context.Context, user UserRecord) (*UserRecord, error)
		UpdatePassword(ctx context.Context, userID uuid.UUID, hash, salt []byte, algorithmTag string) error
		List(ctx context.Context) ([]UserRecord, error)
		Ping(ctx context.Context) error
		Close() error
	}

	params struct {
		fx.In

		Config    *config.Config
		Logger    zerolog.Logger
		Lifecycle fx.Lifecycle
		Pool      *pgxpool.Pool `optional:"true"`
		SQLite    *sql.DB       `optional:"true"`
	}

	// timeoutStore bounds every call to the backing store and reports any
	// failure other than a missing or duplicate user as ErrStoreUnavailable.
	timeoutStore struct {
		next    Store
		timeout time.Duration
	}
)

// NewStore builds the credential store selected by STORE_DRIVER, wrapped with the store timeout.
func NewStore(p params) (Store, error) {
	logger := p.Logger.With().Str("component", "credential").Logger()

	var backend Store
	switch p.Config.StoreDriver {
	case config.DriverPostgres:
		if p.Pool == nil {
			return nil, errors.New("postgres credential store needs a database pool")
		}
		backend = NewPostgresStore(p.Pool)
	case config.DriverSQLite:
		if p.SQLite == nil {
			return nil, errors.New("sqlite credential store needs a database handle")
		}
		backend = NewSQLiteStore(p.SQLite)
	case config.DriverMemory:
		backend = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store driver %q", p.Config.StoreDriver)
	}

	logger.Info().
		Str("driver", p.Config.StoreDriver).
		Dur("timeout", p.Config.StoreTimeout).
		Msg("Credential store ready")

	store := WithTimeout(backend, p.Config.StoreTimeout)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

// WithTimeout wraps next so that no call blocks longer than timeout.
func WithTimeout(next Store, timeout time.Duration) Store {
	return &timeoutStore{next: next, timeout: timeout}
}

func (s *timeoutStore) Lookup(ctx context.Context, username string) (*UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.next.Lookup(ctx, username)
	if err != nil {
		return nil, classify(err)
	}
	return user, nil
}

func (s *timeoutStore) Create(ctx context.Context, user UserRecord) (*UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.next.Create(ctx, user)
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

func (s *timeoutStore) UpdatePassword(ctx context.Context, userID uuid.UUID, hash, salt []byte, algorithmTag string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return classify(s.next.UpdatePassword(ctx, userID, hash, salt, algorithmTag))
}

func (s *timeoutStore) List(ctx context.Context) ([]UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	users, err := s.next.List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return users, nil
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return classify(s.next.Ping(ctx))
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserExists),
		errors.Is(err, ErrInvalidUser), errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// newRecord validates a record about to be inserted and fills its generated fields.
func newRecord(user UserRecord, now time.Time) (UserRecord, error) {
	user.Username = strings.TrimSpace(user.Username)
	user.UsernameKey = NormalizeUsername(user.Username)
	if user.UsernameKey == "" {
		return UserRecord{}, fmt.Errorf("%w: empty username", ErrInvalidUser)
	}
	if len(user.PasswordHash) == 0 || len(user.Salt) == 0 || user.AlgorithmTag == "" {
		return UserRecord{}, fmt.Errorf("%w: missing password hash", ErrInvalidUser)
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	if !user.Role.Valid() {
		return UserRecord{}, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, user.Role)
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.CreatedAt = user.CreatedAt.UTC().Truncate(time.Microsecond)
	return user, nil
}
