// Package store is the Postgres read layer: catalog loads, listing search,
// stats queries, and office lookups. All queries run under a per-call
// deadline with bounded retries; once retries are exhausted the failure
// surfaces as an unavailable error, never a hang.
//
// Text search relies on the pg_trgm extension (word_similarity) being
// installed in the target database.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
	"github.com/kasioon/searchgw/pkg/searchgw/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Querier is the subset of pgxpool.Pool the store reads through. Tests
// substitute a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles every read the gateway performs against Postgres.
type Store struct {
	db      Querier
	pool    *pgxpool.Pool
	timeout time.Duration
	retries int
	logger  *slog.Logger
}

// New connects a pool sized from config and verifies connectivity.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.PoolSize > 0 {
		pc.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := newStore(pool, cfg, logger)
	s.pool = pool
	s.logger.Info("connected to postgres", "pool_size", pc.MaxConns)
	return s, nil
}

// NewWithQuerier builds a Store over an existing Querier, for tests.
func NewWithQuerier(db Querier, cfg config.DatabaseConfig, logger *slog.Logger) *Store {
	s := newStore(db, cfg, logger)
	return s
}

func newStore(db Querier, cfg config.DatabaseConfig, logger *slog.Logger) *Store {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Store{
		db:      db,
		timeout: timeout,
		retries: retries,
		logger:  logger.With("component", "store"),
	}
}

// Close releases the pool. Safe on a test store without one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// withRetry runs op under the per-query deadline, retrying transient
// failures. Not-found results and parent-context cancellation pass through
// untouched; exhausted retries wrap as an unavailable error so the HTTP
// layer answers 503, not 500.
func (s *Store) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			s.logger.Warn("retrying query", "query", name, "attempt", attempt+1, "error", lastErr)
		}

		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := op(opCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return apperr.Wrap(apperr.Unavailable, "database unavailable", lastErr)
}
