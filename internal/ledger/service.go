package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/operation"
)

// Store is the persistence contract for bank balances.
type Store interface {
	// GetOrCreate returns the balance for a key, inserting a zeroed record
	// if none exists. Idempotent.
	GetOrCreate(ctx context.Context, bankName string) (*BankBalance, error)
	// GetForUpdate is GetOrCreate under a row lock; must run inside a
	// transaction so the read-check-write is atomic per bank key.
	GetForUpdate(ctx context.Context, bankName string) (*BankBalance, error)
	Save(ctx context.Context, balance *BankBalance) error
	List(ctx context.Context) ([]*BankBalance, error)
}

// ResolveAccount maps an operation's free-text account field to a
// BankBalance key. Provided by the host; identity by default.
type ResolveAccount func(freeText string) string

// Service applies completed operations and manual adjustments to the ledger.
type Service struct {
	store   Store
	tx      operation.TxManager
	resolve ResolveAccount
	log     *slog.Logger
}

// NewService creates the ledger service. tx supplies the transaction the row
// locks need; nested calls join the caller's transaction, so
// completion-driven invocations stay inside the operation's transaction.
// resolve may be nil for identity resolution; logger may be nil.
func NewService(store Store, tx operation.TxManager, resolve ResolveAccount, logger *slog.Logger) *Service {
	if resolve == nil {
		resolve = func(s string) string { return s }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tx: tx, resolve: resolve, log: logger}
}

// inTx runs fn inside a transaction when a manager is configured.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx != nil {
		return s.tx.WithTransaction(ctx, fn)
	}
	return fn(ctx)
}

// ApplyCompletion posts a completed operation's legs to the ledger. For a
// Compra the house acquires USD: the destination bank's USD balance is
// credited by amount_usd and the source bank's PEN balance debited by
// amount_pen. A Venta runs the inverse direction. Must be called inside the
// completion transaction so a rejected debit rolls the transition back.
func (s *Service) ApplyCompletion(ctx context.Context, op *operation.Operation) error {
	sourceKey := s.resolve(op.SourceAccount)
	destKey := s.resolve(op.DestinationAccount)
	if sourceKey == "" || destKey == "" {
		return fmt.Errorf("operation %s has unresolved bank accounts (%q, %q)", op.Code, op.SourceAccount, op.DestinationAccount)
	}

	var credit, debit money.Money
	switch op.Type {
	case operation.TypeCompra:
		credit = op.AmountUSD
		debit = op.AmountPEN
	case operation.TypeVenta:
		credit = op.AmountPEN
		debit = op.AmountUSD
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		balances, err := s.lockBalances(ctx, destKey, sourceKey)
		if err != nil {
			return err
		}
		if err := balances[destKey].Credit(credit); err != nil {
			return err
		}
		if err := balances[sourceKey].Debit(debit); err != nil {
			return err
		}

		for _, b := range balances {
			if err := s.store.Save(ctx, b); err != nil {
				return err
			}
		}

		s.log.Info("completion applied to ledger",
			"operation", op.Code,
			"type", string(op.Type),
			"credit_bank", destKey,
			"debit_bank", sourceKey,
		)
		return nil
	})
}

// lockBalances locks the referenced bank rows in a stable key order so two
// completions touching the same banks cannot deadlock. Source and
// destination may resolve to the same key.
func (s *Service) lockBalances(ctx context.Context, keys ...string) (map[string]*BankBalance, error) {
	unique := map[string]*BankBalance{}
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, seen := unique[k]; !seen {
			unique[k] = nil
			ordered = append(ordered, k)
		}
	}
	sort.Strings(ordered)

	for _, k := range ordered {
		balance, err := s.store.GetForUpdate(ctx, k)
		if err != nil {
			return nil, err
		}
		unique[k] = balance
	}
	return unique, nil
}

// GetOrCreate exposes the idempotent lookup-or-insert for reconciliation
// tooling.
func (s *Service) GetOrCreate(ctx context.Context, bankName string) (*BankBalance, error) {
	if bankName == "" {
		return nil, fmt.Errorf("bank name is required")
	}
	return s.store.GetOrCreate(ctx, bankName)
}

// Adjust applies a signed manual correction to one bank's balances. The
// non-negativity guard applies exactly as for completions.
func (s *Service) Adjust(ctx context.Context, bankName, deltaUSD, deltaPEN, actor, reason string) (*BankBalance, error) {
	if reason == "" {
		return nil, fmt.Errorf("adjustment reason is required")
	}
	du, err := decimal.NewFromString(deltaUSD)
	if err != nil {
		return nil, fmt.Errorf("invalid usd delta %q: %w", deltaUSD, err)
	}
	dp, err := decimal.NewFromString(deltaPEN)
	if err != nil {
		return nil, fmt.Errorf("invalid pen delta %q: %w", deltaPEN, err)
	}

	var balance *BankBalance
	err = s.inTx(ctx, func(ctx context.Context) error {
		balance, err = s.store.GetForUpdate(ctx, bankName)
		if err != nil {
			return err
		}
		if err := balance.apply(money.FromDecimal(du, money.USD)); err != nil {
			return err
		}
		if err := balance.apply(money.FromDecimal(dp, money.PEN)); err != nil {
			return err
		}
		return s.store.Save(ctx, balance)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("manual balance adjustment",
		"bank", bankName,
		"delta_usd", du.StringFixed(2),
		"delta_pen", dp.StringFixed(2),
		"actor", actor,
		"reason", reason,
	)
	return balance, nil
}

// ReconciliationReport returns each bank's drift against its opening balances.
func (s *Service) ReconciliationReport(ctx context.Context) ([]Delta, error) {
	balances, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	deltas := make([]Delta, 0, len(balances))
	for _, b := range balances {
		du, err := b.BalanceUSD.Sub(b.InitialUSD)
		if err != nil {
			return nil, err
		}
		dp, err := b.BalancePEN.Sub(b.InitialPEN)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, Delta{BankName: b.BankName, DeltaUSD: du, DeltaPEN: dp})
	}
	return deltas, nil
}
