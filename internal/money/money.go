package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the two traded currencies.
type Currency string

const (
	USD Currency = "USD"
	PEN Currency = "PEN"
)

// Money is a fixed-point amount with 2 fractional digits tagged with a currency.
// Arithmetic truncates to 2 decimal places; display rounds half-up.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New parses a decimal string into a Money, truncating to 2 decimal places.
func New(value string, currency Currency) (Money, error) {
	if currency != USD && currency != PEN {
		return Money{}, fmt.Errorf("unknown currency: %s", currency)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return Money{amount: d.Truncate(2), currency: currency}, nil
}

// MustNew is New that panics on invalid input. For constants and tests.
func MustNew(value string, currency Currency) Money {
	m, err := New(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal wraps a raw decimal, truncating to 2 decimal places.
func FromDecimal(d decimal.Decimal, currency Currency) Money {
	return Money{amount: d.Truncate(2), currency: currency}
}

// Zero returns a zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Currency returns the currency tag.
func (m Money) Currency() Currency {
	return m.currency
}

// Decimal returns the underlying fixed-point value.
func (m Money) Decimal() decimal.Decimal {
	return m.amount
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount).Truncate(2), currency: m.currency}, nil
}

// Sub returns m - other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Sub(other.amount).Truncate(2), currency: m.currency}, nil
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// Cmp compares two amounts of the same currency: -1, 0 or 1.
func (m Money) Cmp(other Money) int {
	return m.amount.Cmp(other.amount)
}

// Equal reports amount and currency equality.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// Min returns the smaller of two amounts of the same currency.
func Min(a, b Money) Money {
	if a.amount.LessThan(b.amount) {
		return a
	}
	return b
}

// String returns the stored fixed-point value, e.g. "375.00 PEN".
func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + string(m.currency)
}

// Display returns the amount rounded half-up to 2 decimal places, without
// the currency tag. This is the user-facing rendering; storage stays truncated.
func (m Money) Display() string {
	return m.amount.Round(2).StringFixed(2)
}
