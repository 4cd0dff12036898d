package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rate is a fixed-point exchange rate with 4 fractional digits (PEN per USD).
type Rate struct {
	value decimal.Decimal
}

// NewRate parses a decimal string into a Rate, truncating to 4 decimal places.
// Rates must be positive.
func NewRate(value string) (Rate, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate %q: %w", value, err)
	}
	if !d.IsPositive() {
		return Rate{}, fmt.Errorf("rate must be positive, got %s", value)
	}
	return Rate{value: d.Truncate(4)}, nil
}

// MustNewRate is NewRate that panics on invalid input. For constants and tests.
func MustNewRate(value string) Rate {
	r, err := NewRate(value)
	if err != nil {
		panic(err)
	}
	return r
}

// Decimal returns the underlying fixed-point value.
func (r Rate) Decimal() decimal.Decimal {
	return r.value
}

// IsZero reports whether the rate is unset.
func (r Rate) IsZero() bool {
	return r.value.IsZero()
}

// Equal reports rate equality.
func (r Rate) Equal(other Rate) bool {
	return r.value.Equal(other.value)
}

// Convert derives the PEN amount for a USD amount at this rate,
// truncated to 2 decimal places.
func (r Rate) Convert(usd Money) (Money, error) {
	if usd.Currency() != USD {
		return Money{}, fmt.Errorf("can only convert USD amounts, got %s", usd.Currency())
	}
	return FromDecimal(usd.Decimal().Mul(r.value), PEN), nil
}

// WithPip returns the rate adjusted by a signed pip delta (e.g. "-0.0050"
// for a referral discount). History is never mutated; this is a quote-time
// adjustment only.
func (r Rate) WithPip(pip string) (Rate, error) {
	d, err := decimal.NewFromString(pip)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid pip %q: %w", pip, err)
	}
	adjusted := r.value.Add(d).Truncate(4)
	if !adjusted.IsPositive() {
		return Rate{}, fmt.Errorf("pip %s would drive rate %s non-positive", pip, r.value)
	}
	return Rate{value: adjusted}, nil
}

// Spread returns (sell - buy) as a raw decimal. May be negative: buy and
// sell rates are set independently and the business may invert them.
func Spread(sell, buy Rate) decimal.Decimal {
	return sell.value.Sub(buy.value)
}

// Profit computes the realized PEN profit for a matched USD amount:
// matched × (sell − buy), truncated to 2 decimal places. Negative when
// the house bought high and sold low.
func Profit(matched Money, sell, buy Rate) (Money, error) {
	if matched.Currency() != USD {
		return Money{}, fmt.Errorf("matched amount must be USD, got %s", matched.Currency())
	}
	return FromDecimal(matched.Decimal().Mul(Spread(sell, buy)), PEN), nil
}

// String renders the rate at 4 decimal places.
func (r Rate) String() string {
	return r.value.StringFixed(4)
}
