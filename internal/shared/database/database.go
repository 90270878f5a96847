package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	_ "modernc.org/sqlite"

	"github.com/andrasnagy-data/gatekeep/internal/shared/config"
)

// NewPgxPool creates a PostgreSQL connection pool with production-ready settings.
// It returns a nil pool when neither the credential store nor the session table lives in Postgres.
// Pool settings: max 10 connections, min 5 connections, 1-hour max lifetime, 30-min idle timeout.
func NewPgxPool(cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.StoreDriver != config.DriverPostgres && cfg.SessionBackend != config.DriverPostgres {
		return nil, nil
	}

	logger.Debug().Msg("Initializing database connection pool")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse database URL")
		return nil, err
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	logger.Debug().
		Int32("max_conns", poolConfig.MaxConns).
		Int32("min_conns", poolConfig.MinConns).
		Dur("max_conns_lifetime", poolConfig.MaxConnLifetime).
		Dur("max_conns_idletime", poolConfig.MaxConnIdleTime).
		Msg("Database connection pool configuration")

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create database connection pool")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		logger.Error().Err(err).Msg("Failed to migrate database")
		return nil, err
	}

	logger.Debug().Msg("Database connection pool created successfully")
	return pool, nil
}

// ClosePoolOnStop closes pool when the application stops. A nil pool is ignored.
func ClosePoolOnStop(lc fx.Lifecycle, pool *pgxpool.Pool, logger zerolog.Logger) {
	if pool == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Debug().Msg("Closing database connection pool")
			pool.Close()
			return nil
		},
	})
}

// NewSQLiteDB opens the SQLite database file used by the sqlite credential store.
// It returns nil when another store driver is configured.
func NewSQLiteDB(cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	if cfg.StoreDriver != config.DriverSQLite {
		return nil, nil
	}
	return OpenSQLite(context.Background(), cfg.SQLitePath, logger)
}

// OpenSQLite opens path, applies pragmas for concurrent readers and runs migrations.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	logger.Debug().Str("path", path).Msg("Opening sqlite database")

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := MigrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
