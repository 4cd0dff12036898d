package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/operation"
	"github.com/example/cambio-core/internal/store"
)

// PostgresStore implements Store over pgx, joining the transaction in the
// context. Remainders live on the operations table as matched_usd.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the pgx-backed match store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (ps *PostgresStore) ListOpenCandidates(ctx context.Context, opType operation.Type) ([]*Candidate, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	rows, err := q.Query(ctx, `
		SELECT code, exchange_rate::text, (amount_usd - matched_usd)::text, created_at
		FROM operations
		WHERE operation_type = $1
		  AND status = 'Completada'
		  AND amount_usd > matched_usd
		ORDER BY created_at ASC
		FOR UPDATE
	`, string(opType))
	if err != nil {
		return nil, fmt.Errorf("failed to query match candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		var c Candidate
		var rate, remainder string
		var createdAt time.Time
		if err := rows.Scan(&c.Code, &rate, &remainder, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if c.Rate, err = money.NewRate(rate); err != nil {
			return nil, err
		}
		if c.Remainder, err = money.New(remainder, money.USD); err != nil {
			return nil, err
		}
		c.CreatedAt = createdAt
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}

func (ps *PostgresStore) AccumulateMatched(ctx context.Context, code string, delta money.Money) error {
	q := store.QuerierFrom(ctx, ps.pool)
	tag, err := q.Exec(ctx, `
		UPDATE operations
		SET matched_usd = matched_usd + $2
		WHERE code = $1 AND matched_usd + $2 <= amount_usd
	`, code, delta.Decimal().StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to accumulate matched amount for %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("matched amount for %s would exceed amount_usd", code)
	}
	return nil
}

func (ps *PostgresStore) CreateMatch(ctx context.Context, match *Match) error {
	q := store.QuerierFrom(ctx, ps.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO accounting_matches (
			id, buy_operation_code, sell_operation_code, matched_amount_usd,
			buy_rate, sell_rate, profit_pen, status, batch_id, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, match.ID, match.BuyCode, match.SellCode,
		match.MatchedUSD.Decimal().StringFixed(2),
		match.BuyRate.String(), match.SellRate.String(),
		match.ProfitPEN.Decimal().StringFixed(2),
		string(match.Status), match.BatchID, match.CreatedBy, match.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

const matchColumns = `
	id, buy_operation_code, sell_operation_code, matched_amount_usd::text,
	buy_rate::text, sell_rate::text, profit_pen::text, status, batch_id,
	created_by, created_at`

func (ps *PostgresStore) Get(ctx context.Context, id string) (*Match, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	row := q.QueryRow(ctx, `SELECT `+matchColumns+` FROM accounting_matches WHERE id = $1`, id)
	return scanMatch(row, id)
}

func (ps *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Match, error) {
	tx := store.TxFrom(ctx)
	if tx == nil {
		return nil, fmt.Errorf("GetForUpdate requires an open transaction")
	}
	row := tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM accounting_matches WHERE id = $1 FOR UPDATE`, id)
	return scanMatch(row, id)
}

func (ps *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	q := store.QuerierFrom(ctx, ps.pool)
	tag, err := q.Exec(ctx, `UPDATE accounting_matches SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update match status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s not found", id)
	}
	return nil
}

func (ps *PostgresStore) ListForOperation(ctx context.Context, code string) ([]*Match, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	rows, err := q.Query(ctx, `
		SELECT `+matchColumns+`
		FROM accounting_matches
		WHERE buy_operation_code = $1 OR sell_operation_code = $1
		ORDER BY created_at ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for %s: %w", code, err)
	}
	defer rows.Close()

	var matches []*Match
	for rows.Next() {
		m, err := scanMatch(rows, "")
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner, id string) (*Match, error) {
	var m Match
	var matched, buyRate, sellRate, profit, status string
	err := row.Scan(&m.ID, &m.BuyCode, &m.SellCode, &matched,
		&buyRate, &sellRate, &profit, &status, &m.BatchID,
		&m.CreatedBy, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match %s not found", id)
		}
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}

	if m.MatchedUSD, err = money.New(matched, money.USD); err != nil {
		return nil, err
	}
	if m.BuyRate, err = money.NewRate(buyRate); err != nil {
		return nil, err
	}
	if m.SellRate, err = money.NewRate(sellRate); err != nil {
		return nil, err
	}
	if m.ProfitPEN, err = money.New(profit, money.PEN); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	return &m, nil
}
