// Package ledger maintains authoritative bank balances per
// bank-account-currency key, derived from completed operations and manual
// adjustments. Both current balances stay non-negative at all times,
// enforced at the mutation boundary.
package ledger

import (
	"fmt"
	"time"

	"github.com/example/cambio-core/internal/money"
)

// BankBalance is the running balance for one bank-account-currency key.
// BankName encodes bank, currency and account, e.g. "BCP USD (654321)".
type BankBalance struct {
	BankName   string
	BalanceUSD money.Money
	BalancePEN money.Money
	// Opening balances, the reconciliation baseline.
	InitialUSD money.Money
	InitialPEN money.Money
	UpdatedAt  time.Time
}

// NewBankBalance returns a zeroed balance for a key.
func NewBankBalance(bankName string) *BankBalance {
	return &BankBalance{
		BankName:   bankName,
		BalanceUSD: money.Zero(money.USD),
		BalancePEN: money.Zero(money.PEN),
		InitialUSD: money.Zero(money.USD),
		InitialPEN: money.Zero(money.PEN),
	}
}

// InsufficientBalanceError reports a debit that would drive a balance
// negative. The triggering completion is rejected and must be reconciled
// manually before retrying.
type InsufficientBalanceError struct {
	BankName string
	Currency money.Currency
	Have     money.Money
	Need     money.Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance in bank %s: have %s, need %s",
		e.Currency, e.BankName, e.Have.Display(), e.Need.Display())
}

// Credit adds amount to the balance for its currency.
func (b *BankBalance) Credit(amount money.Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit amount must not be negative: %s", amount)
	}
	return b.apply(amount)
}

// Debit subtracts amount from the balance for its currency, rejecting any
// debit that would leave it negative.
func (b *BankBalance) Debit(amount money.Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("debit amount must not be negative: %s", amount)
	}
	current := b.balanceFor(amount.Currency())
	if current.Cmp(amount) < 0 {
		return &InsufficientBalanceError{
			BankName: b.BankName,
			Currency: amount.Currency(),
			Have:     current,
			Need:     amount,
		}
	}
	negated, err := money.Zero(amount.Currency()).Sub(amount)
	if err != nil {
		return err
	}
	return b.apply(negated)
}

// apply adds a signed delta to the balance of the delta's currency,
// rejecting a negative result.
func (b *BankBalance) apply(delta money.Money) error {
	next, err := b.balanceFor(delta.Currency()).Add(delta)
	if err != nil {
		return err
	}
	if next.IsNegative() {
		return &InsufficientBalanceError{
			BankName: b.BankName,
			Currency: delta.Currency(),
			Have:     b.balanceFor(delta.Currency()),
			Need:     delta,
		}
	}
	switch delta.Currency() {
	case money.USD:
		b.BalanceUSD = next
	case money.PEN:
		b.BalancePEN = next
	default:
		return fmt.Errorf("unknown currency: %s", delta.Currency())
	}
	return nil
}

func (b *BankBalance) balanceFor(c money.Currency) money.Money {
	if c == money.USD {
		return b.BalanceUSD
	}
	return b.BalancePEN
}

// Delta is the reconciliation drift of one bank against its opening balances.
type Delta struct {
	BankName string
	DeltaUSD money.Money
	DeltaPEN money.Money
}
