package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/store"
)

// PostgresStore implements Store over pgx. The exchange_rates table is
// append-only; rows are never updated or deleted.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the pgx-backed rate store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const rateColumns = `
	id,
	buy_rate::text,
	sell_rate::text,
	updated_by,
	updated_at`

func (ps *PostgresStore) Append(ctx context.Context, rate *ExchangeRate) error {
	q := store.QuerierFrom(ctx, ps.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO exchange_rates (id, buy_rate, sell_rate, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rate.ID,
		rate.Buy.Decimal().StringFixed(4),
		rate.Sell.Decimal().StringFixed(4),
		rate.UpdatedBy,
		rate.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append exchange rate: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Latest(ctx context.Context) (*ExchangeRate, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	row := q.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates ORDER BY updated_at DESC LIMIT 1`)
	rate, err := scanRate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRate
	}
	return rate, err
}

func (ps *PostgresStore) History(ctx context.Context, limit int) ([]*ExchangeRate, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	rows, err := q.Query(ctx, `SELECT `+rateColumns+` FROM exchange_rates ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate history: %w", err)
	}
	defer rows.Close()

	var history []*ExchangeRate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRate(row rowScanner) (*ExchangeRate, error) {
	var r ExchangeRate
	var buy, sell string
	var updatedAt time.Time
	if err := row.Scan(&r.ID, &buy, &sell, &r.UpdatedBy, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
	}

	var err error
	if r.Buy, err = money.NewRate(buy); err != nil {
		return nil, err
	}
	if r.Sell, err = money.NewRate(sell); err != nil {
		return nil, err
	}
	r.UpdatedAt = updatedAt
	return &r, nil
}
