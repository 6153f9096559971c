package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/config"
)

//go:embed schema.sql
var schema string

// DB holds database connections
type DB struct {
	Postgres *sqlx.DB
	// Locks is a separate pool for advisory lock sessions, nil unless the
	// advisory backend is configured.
	Locks *sqlx.DB
}

// NewDB creates new database connections using config
func NewDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	// Connect to PostgreSQL
	postgres, err := connect(ctx, cfg, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return nil, err
	}
	db := &DB{Postgres: postgres}

	if cfg.Lock.Backend == config.LockBackendAdvisory {
		// Held advisory locks pin their connections. They get their own pool
		// so that they cannot starve transactions; the extra connection
		// serves lock administration.
		locks, err := connect(ctx, cfg, cfg.Lock.MaxConns+1, 1)
		if err != nil {
			postgres.Close()
			return nil, fmt.Errorf("lock pool: %w", err)
		}
		db.Locks = locks
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
		zap.Bool("lock_pool", db.Locks != nil))

	return db, nil
}

func connect(ctx context.Context, cfg *config.Config, maxConns, minConns int) (*sqlx.DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)
	conn.SetConnMaxLifetime(time.Hour)

	// Test PostgreSQL connection
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return conn, nil
}

// Migrate creates the coupon tables if they do not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Postgres.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes all database connections
func (db *DB) Close() error {
	if db.Locks != nil {
		if err := db.Locks.Close(); err != nil {
			return fmt.Errorf("failed to close PostgreSQL lock pool: %w", err)
		}
	}
	if err := db.Postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}

	return nil
}
