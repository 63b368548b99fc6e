package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTxTimeout = 15 * time.Second

type txContextKey struct{}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	timeout time.Duration
	options pgx.TxOptions
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithIsolation overrides the isolation level (read committed by default).
func WithIsolation(level pgx.TxIsoLevel) TxOption {
	return func(cfg *txConfig) {
		cfg.options.IsoLevel = level
	}
}

// DB wraps a pool and routes queries to the transaction carried by the context when present.
type DB struct {
	pool   *pgxpool.Pool
	txOpts []TxOption
}

// NewDB wraps the pool.
func NewDB(pool *pgxpool.Pool, opts ...TxOption) *DB {
	return &DB{pool: pool, txOpts: opts}
}

// Pool exposes the underlying pool.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Conn returns the transaction stored in ctx, or the pool.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return db.pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return ok && tx != nil
}

// RunInTx executes fn inside a transaction. Nested calls join the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}
	if db == nil || db.pool == nil {
		return WrapError("transaction", errors.New("postgres: pool is nil"))
	}

	cfg := txConfig{timeout: defaultTxTimeout, options: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
	for _, opt := range db.txOpts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	tx, err := db.pool.BeginTx(txCtx, cfg.options)
	if err != nil {
		return WrapError("transaction.begin", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback(context.WithoutCancel(txCtx))
	}()

	if err := fn(context.WithValue(txCtx, txContextKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(txCtx); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}
