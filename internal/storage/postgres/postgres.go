// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps a pgx connection pool behind an atomically swappable handle.
// The health doctor repairs a wedged database connection by constructing a
// fresh pool and swapping it in; holders of *DB never observe the swap.
type DB struct {
	dsn    string
	logger *zap.Logger
	pool   atomic.Pointer[pgxpool.Pool]
}

// Connect creates the pool and verifies the connection.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}

	db := &DB{dsn: dsn, logger: logger.Named("postgres")}
	db.pool.Store(pool)
	return db, nil
}

func newPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Pool returns the current pool handle.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool.Load()
}

// Ping checks connectivity of the current pool.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool().Ping(ctx)
}

// Reconnect builds a replacement pool and swaps it in. The old pool is
// closed after the swap so in-flight queries drain against it.
func (db *DB) Reconnect(ctx context.Context) error {
	pool, err := newPool(ctx, db.dsn)
	if err != nil {
		return fmt.Errorf("rebuild pool: %w", err)
	}

	old := db.pool.Swap(pool)
	if old != nil {
		old.Close()
	}
	db.logger.Warn("Database pool rebuilt")
	return nil
}

// Close closes the current pool.
func (db *DB) Close() {
	if pool := db.pool.Load(); pool != nil {
		pool.Close()
	}
}

// PostgreSQL error codes
const pgErrUniqueViolation = "23505" // unique_violation

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
