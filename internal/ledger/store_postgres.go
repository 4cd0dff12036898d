package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/store"
)

// PostgresStore implements Store over pgx. It joins the transaction in the
// context when one is open, so completion-driven mutations share the
// operation's transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the pgx-backed balance store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const balanceColumns = `
	bank_name,
	balance_usd::text,
	balance_pen::text,
	initial_balance_usd::text,
	initial_balance_pen::text,
	updated_at`

func (ps *PostgresStore) GetOrCreate(ctx context.Context, bankName string) (*BankBalance, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	if err := ps.ensure(ctx, q, bankName); err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, `SELECT `+balanceColumns+` FROM bank_balances WHERE bank_name = $1`, bankName)
	return scanBalance(row)
}

func (ps *PostgresStore) GetForUpdate(ctx context.Context, bankName string) (*BankBalance, error) {
	tx := store.TxFrom(ctx)
	if tx == nil {
		return nil, fmt.Errorf("GetForUpdate requires an open transaction")
	}
	if err := ps.ensure(ctx, tx, bankName); err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM bank_balances WHERE bank_name = $1 FOR UPDATE`, bankName)
	return scanBalance(row)
}

func (ps *PostgresStore) Save(ctx context.Context, balance *BankBalance) error {
	q := store.QuerierFrom(ctx, ps.pool)
	tag, err := q.Exec(ctx, `
		UPDATE bank_balances
		SET balance_usd = $2, balance_pen = $3, updated_at = now()
		WHERE bank_name = $1
	`, balance.BankName,
		balance.BalanceUSD.Decimal().StringFixed(2),
		balance.BalancePEN.Decimal().StringFixed(2),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance for %s: %w", balance.BankName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bank %s not found", balance.BankName)
	}
	return nil
}

func (ps *PostgresStore) List(ctx context.Context) ([]*BankBalance, error) {
	q := store.QuerierFrom(ctx, ps.pool)
	rows, err := q.Query(ctx, `SELECT `+balanceColumns+` FROM bank_balances ORDER BY bank_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*BankBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ensure lazily creates the balance row with zeroed balances.
func (ps *PostgresStore) ensure(ctx context.Context, q store.Querier, bankName string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bank_balances (bank_name, updated_at)
		VALUES ($1, now())
		ON CONFLICT (bank_name) DO NOTHING
	`, bankName)
	if err != nil {
		return fmt.Errorf("failed to ensure balance row for %s: %w", bankName, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*BankBalance, error) {
	var b BankBalance
	var balUSD, balPEN, initUSD, initPEN string
	var updatedAt time.Time
	if err := row.Scan(&b.BankName, &balUSD, &balPEN, &initUSD, &initPEN, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan balance: %w", err)
	}

	var err error
	if b.BalanceUSD, err = money.New(balUSD, money.USD); err != nil {
		return nil, err
	}
	if b.BalancePEN, err = money.New(balPEN, money.PEN); err != nil {
		return nil, err
	}
	if b.InitialUSD, err = money.New(initUSD, money.USD); err != nil {
		return nil, err
	}
	if b.InitialPEN, err = money.New(initPEN, money.PEN); err != nil {
		return nil, err
	}
	b.UpdatedAt = updatedAt
	return &b, nil
}
