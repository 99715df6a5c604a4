// Package postgres is the store.Store implementation backed by
// jackc/pgx/v5 and pgxpool, grounded on the teacher's
// internal/database/postgres/pool.go connection-pool wrapper: a typed
// config, a Connect/Health/Close lifecycle, and slog-based logging of
// every connection-level event.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// ErrNotConnected is returned by any query method called before Connect.
var ErrNotConnected = errors.New("postgres: not connected")

// Config configures the pgxpool.Pool backing a Store.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// querier is the subset of pgxpool.Pool and pgx.Tx every repository method
// runs against — it lets the same method bodies serve the pool-level Store
// and a transaction-scoped Store returned from RunInTx, the way the
// reconciler/lifecycle/approval gate need "their writes and their audit
// event in one commit" (spec.md §5 Transactionality).
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a pgxpool.Pool and implements store.Store. All repository
// methods run against db, which is either the pool itself or an open
// transaction (see RunInTx).
type Store struct {
	pool     *pgxpool.Pool
	db       querier
	logger   *slog.Logger
	isClosed atomic.Bool
}

// Connect parses cfg, opens the pool, and pings it once so configuration
// errors surface at startup rather than on the first request.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to postgres",
		"max_conns", poolConfig.MaxConns,
		"min_conns", poolConfig.MinConns,
		"connect_time_ms", time.Since(start).Milliseconds(),
	)

	return &Store{pool: pool, db: pool, logger: logger}, nil
}

// RunInTx opens a transaction, runs fn against a Store scoped to it, and
// commits on success or rolls back on any error fn returns (including a
// panic, which is re-thrown after rollback).
func (s *Store) RunInTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{pool: s.pool, db: tx, logger: s.logger}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithTx implements store.Store by adapting RunInTx's *Store-typed callback
// to the interface-typed one business packages program against.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return s.RunInTx(ctx, func(tx *Store) error {
		return fn(ctx, tx)
	})
}

// Health pings the pool; callers use it for the liveness endpoint.
func (s *Store) Health(ctx context.Context) error {
	if s.isClosed.Load() || s.pool == nil {
		return ErrNotConnected
	}
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection. Safe to call more than once.
func (s *Store) Close() {
	if s.isClosed.CompareAndSwap(false, true) {
		s.pool.Close()
		s.logger.Info("postgres pool closed")
	}
}
