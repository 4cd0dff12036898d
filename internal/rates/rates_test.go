package rates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cambio-core/internal/operation"
)

type memStore struct {
	records []*ExchangeRate
}

func (m *memStore) Append(_ context.Context, rate *ExchangeRate) error {
	m.records = append(m.records, rate)
	return nil
}

func (m *memStore) Latest(_ context.Context) (*ExchangeRate, error) {
	if len(m.records) == 0 {
		return nil, ErrNoRate
	}
	return m.records[len(m.records)-1], nil
}

func (m *memStore) History(_ context.Context, limit int) ([]*ExchangeRate, error) {
	var out []*ExchangeRate
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func TestPublish_AppendsHistory(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, nil)

	first, err := svc.Publish(context.Background(), "3.70", "3.80", "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := svc.Publish(context.Background(), "3.71", "3.81", "admin-1")
	require.NoError(t, err)

	current, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, "3.7100", current.Buy.String())

	// The earlier record survives untouched.
	history, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[1].ID)
	assert.Equal(t, "3.7000", history[1].Buy.String())
}

func TestPublish_RejectsInvalidRates(t *testing.T) {
	svc := NewService(&memStore{}, nil)

	_, err := svc.Publish(context.Background(), "0", "3.80", "admin-1")
	assert.Error(t, err)

	_, err = svc.Publish(context.Background(), "3.70", "abc", "admin-1")
	assert.Error(t, err)
}

func TestCurrent_NoRatePublished(t *testing.T) {
	svc := NewService(&memStore{}, nil)

	_, err := svc.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestQuote_SelectsSideByOperationType(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, nil)
	_, err := svc.Publish(context.Background(), "3.70", "3.80", "admin-1")
	require.NoError(t, err)

	buy, err := svc.Quote(context.Background(), operation.TypeCompra, "")
	require.NoError(t, err)
	assert.Equal(t, "3.7000", buy.String())

	sell, err := svc.Quote(context.Background(), operation.TypeVenta, "")
	require.NoError(t, err)
	assert.Equal(t, "3.8000", sell.String())
}

func TestQuote_AppliesPipWithoutMutatingHistory(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, nil)
	_, err := svc.Publish(context.Background(), "3.70", "3.80", "admin-1")
	require.NoError(t, err)

	quoted, err := svc.Quote(context.Background(), operation.TypeVenta, "-0.0050")
	require.NoError(t, err)
	assert.Equal(t, "3.7950", quoted.String())

	current, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.8000", current.Sell.String())
}

func TestService_ClockStampsRecords(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, nil)
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return fixed })

	record, err := svc.Publish(context.Background(), "3.70", "3.80", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, fixed, record.UpdatedAt)
}
