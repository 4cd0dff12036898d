// Package matching pairs completed buy operations against completed sell
// operations to realize profit in PEN. Remainders persist until an
// opposite-side completion arrives; matches are soft-cancelled only.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/cambio-core/internal/money"
	"github.com/example/cambio-core/internal/operation"
)

// Status is the accounting-match lifecycle. Anulado is a soft cancel.
type Status string

const (
	StatusActivo  Status = "Activo"
	StatusAnulado Status = "Anulado"
)

// Match links one buy and one sell operation over a matched USD amount,
// carrying each side's recorded rate at match time.
type Match struct {
	ID         string
	BuyCode    string
	SellCode   string
	MatchedUSD money.Money
	BuyRate    money.Rate
	SellRate   money.Rate
	// ProfitPEN = MatchedUSD × (SellRate − BuyRate). Positive when the
	// house bought low and sold high.
	ProfitPEN money.Money
	Status    Status
	// BatchID optionally groups matches into an accounting period close.
	BatchID   *string
	CreatedBy string
	CreatedAt time.Time
}

// Candidate is a completed operation with unmatched remainder, as seen by
// the engine.
type Candidate struct {
	Code      string
	Rate      money.Rate
	Remainder money.Money
	CreatedAt time.Time
}

// Store is the persistence contract for matches and remainder pools.
type Store interface {
	// ListOpenCandidates returns completed operations of the given type with
	// positive unmatched remainder, oldest first, locked for the duration of
	// the surrounding transaction.
	ListOpenCandidates(ctx context.Context, opType operation.Type) ([]*Candidate, error)
	// AccumulateMatched adds delta to an operation's matched_usd. The total
	// is never decremented: annulling a match does not restore remainder.
	AccumulateMatched(ctx context.Context, code string, delta money.Money) error
	CreateMatch(ctx context.Context, match *Match) error
	Get(ctx context.Context, id string) (*Match, error)
	GetForUpdate(ctx context.Context, id string) (*Match, error)
	SetStatus(ctx context.Context, id string, status Status) error
	ListForOperation(ctx context.Context, code string) ([]*Match, error)
}

// Engine implements the greedy FIFO matcher.
type Engine struct {
	store Store
	tx    operation.TxManager
	log   *slog.Logger
	clock func() time.Time
}

// NewEngine creates the match engine. tx is used only for Annul, which runs
// outside a completion transaction; logger may be nil.
func NewEngine(store Store, tx operation.TxManager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, tx: tx, log: logger, clock: time.Now}
}

// SetClock overrides the wall clock. For tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// MatchCompleted greedily pairs a freshly completed operation against the
// opposite-side pool in creation-time FIFO order, consuming
// min(remaining, candidate remainder) per pairing until the operation's
// remainder reaches zero or candidates run out. Runs inside the completion
// transaction.
func (e *Engine) MatchCompleted(ctx context.Context, op *operation.Operation) error {
	if op.Status != operation.StatusCompletada {
		return fmt.Errorf("operation %s is %q, only completed operations are matchable", op.Code, op.Status)
	}

	remaining := op.UnmatchedUSD()
	if !remaining.IsPositive() {
		return nil
	}

	opposite := operation.TypeVenta
	if op.Type == operation.TypeVenta {
		opposite = operation.TypeCompra
	}

	candidates, err := e.store.ListOpenCandidates(ctx, opposite)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if !remaining.IsPositive() {
			break
		}
		take := money.Min(remaining, candidate.Remainder)
		if !take.IsPositive() {
			continue
		}

		match, err := e.buildMatch(op, candidate, take)
		if err != nil {
			return err
		}
		if err := e.store.CreateMatch(ctx, match); err != nil {
			return err
		}
		if err := e.store.AccumulateMatched(ctx, op.Code, take); err != nil {
			return err
		}
		if err := e.store.AccumulateMatched(ctx, candidate.Code, take); err != nil {
			return err
		}

		if remaining, err = remaining.Sub(take); err != nil {
			return err
		}
		if op.MatchedUSD, err = op.MatchedUSD.Add(take); err != nil {
			return err
		}

		e.log.Info("accounting match created",
			"match", match.ID,
			"buy", match.BuyCode,
			"sell", match.SellCode,
			"matched_usd", match.MatchedUSD.Display(),
			"profit_pen", match.ProfitPEN.Display(),
		)
	}

	return nil
}

func (e *Engine) buildMatch(op *operation.Operation, candidate *Candidate, take money.Money) (*Match, error) {
	match := &Match{
		ID:         uuid.New().String(),
		MatchedUSD: take,
		Status:     StatusActivo,
		CreatedAt:  e.clock(),
	}
	if op.Type == operation.TypeCompra {
		match.BuyCode, match.BuyRate = op.Code, op.Rate
		match.SellCode, match.SellRate = candidate.Code, candidate.Rate
	} else {
		match.SellCode, match.SellRate = op.Code, op.Rate
		match.BuyCode, match.BuyRate = candidate.Code, candidate.Rate
	}

	profit, err := money.Profit(take, match.SellRate, match.BuyRate)
	if err != nil {
		return nil, err
	}
	match.ProfitPEN = profit
	return match, nil
}

// Annul soft-cancels an active match by explicit staff action. The two
// operations' matched totals are left untouched, so the amounts do not
// return to the re-matchable pool.
func (e *Engine) Annul(ctx context.Context, matchID, actor string) error {
	annul := func(ctx context.Context) error {
		match, err := e.store.GetForUpdate(ctx, matchID)
		if err != nil {
			return err
		}
		if match.Status != StatusActivo {
			return fmt.Errorf("match %s is already %q", matchID, match.Status)
		}
		if err := e.store.SetStatus(ctx, matchID, StatusAnulado); err != nil {
			return err
		}
		e.log.Info("accounting match annulled", "match", matchID, "actor", actor)
		return nil
	}

	if e.tx != nil {
		return e.tx.WithTransaction(ctx, annul)
	}
	return annul(ctx)
}

// ListForOperation returns all matches referencing an operation, active and
// annulled.
func (e *Engine) ListForOperation(ctx context.Context, code string) ([]*Match, error) {
	return e.store.ListForOperation(ctx, code)
}
