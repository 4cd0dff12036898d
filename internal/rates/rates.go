// Package rates keeps the append-only exchange-rate history. The current
// rate is simply the most recent record; buy and sell are set independently
// and no ordering between them is enforced.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/operation"
)

// ErrNoRate is returned when no rate has ever been published.
var ErrNoRate = errors.New("no exchange rate published")

// ExchangeRate is one history record.
type ExchangeRate struct {
	ID        string
	Buy       money.Rate
	Sell      money.Rate
	UpdatedBy string
	UpdatedAt time.Time
}

// Store is the persistence contract for the rate history.
type Store interface {
	Append(ctx context.Context, rate *ExchangeRate) error
	// Latest returns the most recent record, or ErrNoRate.
	Latest(ctx context.Context) (*ExchangeRate, error)
	History(ctx context.Context, limit int) ([]*ExchangeRate, error)
}

// Service publishes and quotes exchange rates.
type Service struct {
	store Store
	log   *slog.Logger
	clock func() time.Time
}

// NewService creates the rate service; logger may be nil.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger, clock: time.Now}
}

// SetClock overrides the wall clock. For tests.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Publish appends a new rate record. History is never rewritten.
func (s *Service) Publish(ctx context.Context, buy, sell, updatedBy string) (*ExchangeRate, error) {
	buyRate, err := money.NewRate(buy)
	if err != nil {
		return nil, fmt.Errorf("invalid buy rate: %w", err)
	}
	sellRate, err := money.NewRate(sell)
	if err != nil {
		return nil, fmt.Errorf("invalid sell rate: %w", err)
	}

	record := &ExchangeRate{
		ID:        uuid.New().String(),
		Buy:       buyRate,
		Sell:      sellRate,
		UpdatedBy: updatedBy,
		UpdatedAt: s.clock(),
	}
	if err := s.store.Append(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("exchange rate published",
		"buy", buyRate.String(),
		"sell", sellRate.String(),
		"by", updatedBy,
	)
	return record, nil
}

// Current returns the latest published record.
func (s *Service) Current(ctx context.Context) (*ExchangeRate, error) {
	return s.store.Latest(ctx)
}

// Quote returns the applicable side of the current rate for an operation
// type, with an optional referral pip discount applied at quote time.
// History is untouched.
func (s *Service) Quote(ctx context.Context, opType operation.Type, pip string) (money.Rate, error) {
	current, err := s.store.Latest(ctx)
	if err != nil {
		return money.Rate{}, err
	}

	var rate money.Rate
	switch opType {
	case operation.TypeCompra:
		rate = current.Buy
	case operation.TypeVenta:
		rate = current.Sell
	default:
		return money.Rate{}, fmt.Errorf("unknown operation type: %s", opType)
	}

	if pip == "" {
		return rate, nil
	}
	return rate.WithPip(pip)
}

// History returns up to limit records, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*ExchangeRate, error) {
	return s.store.History(ctx, limit)
}
