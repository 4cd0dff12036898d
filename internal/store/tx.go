package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txKey is the context key the active transaction travels under.
type txKey struct{}

// Querier is the subset of pgx shared by pools and transactions. Repositories
// run against whichever the context supplies.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFrom returns the context's transaction when one is open, otherwise
// the pool.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFrom(ctx); tx != nil {
		return tx
	}
	return pool
}

// TxFrom returns the transaction stored in the context, or nil.
func TxFrom(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// TxManager runs functions inside a single database transaction. The open
// transaction is stored in the context so every repository call within fn
// shares it; a returned error rolls the whole unit back.
type TxManager struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewTxManager creates a transaction manager over the pool.
func NewTxManager(pool *pgxpool.Pool, logger *slog.Logger) *TxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{pool: pool, log: logger}
}

// WithTransaction executes fn within one transaction. Nested calls join the
// transaction already in the context instead of opening another.
func (tm *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tm.log.Warn("transaction rollback failed", "error", err)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// failure (SQLSTATE 23505) and returns the violated constraint name.
func IsUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
