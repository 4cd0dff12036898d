// Package scheduler runs the background expiration sweep: stale unconfirmed
// operations are moved to Expirada outside the request path. The sweeper is
// an explicitly constructed component with its own lifecycle, owned by the
// composition root.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/cambio-core/internal/operation"
)

// Defaults for the tunables. Both are configuration, not business logic.
const (
	DefaultInterval = 2 * time.Minute
	DefaultWindow   = 15 * time.Minute
)

// ExpireService is the slice of the operation service the sweeper needs.
type ExpireService interface {
	ListExpirable(ctx context.Context, cutoff time.Time) ([]string, error)
	Expire(ctx context.Context, code string, cutoff time.Time) (*operation.Operation, error)
}

// Sweeper periodically expires operations that stayed unconfirmed past the
// timeout window. Re-scanning already-expired operations is a no-op because
// the service's status guard excludes them.
type Sweeper struct {
	ops      ExpireService
	interval time.Duration
	window   time.Duration
	log      *slog.Logger
	clock    func() time.Time

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSweeper creates a sweeper. Non-positive interval or window fall back to
// the defaults; logger may be nil.
func NewSweeper(ops ExpireService, interval, window time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		ops:      ops,
		interval: interval,
		window:   window,
		log:      logger,
		clock:    time.Now,
	}
}

// SetClock overrides the wall clock. For tests.
func (s *Sweeper) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Start launches the sweep loop in its own goroutine. Starting a running
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("expiration sweeper started",
			"interval", s.interval.String(),
			"window", s.window.String(),
		)

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Error("expiration sweep failed", "error", err)
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop. An in-flight sweep finishes its current batch item;
// no new cycles are scheduled. Stopping a stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	<-s.done
	s.log.Info("expiration sweeper stopped")
}

// Sweep runs one expiration pass: snapshot the candidate set in one read,
// then expire each candidate in its own transaction. A candidate that lost
// a race with a staff action is logged and skipped; it never aborts the
// batch. Returns the number of operations expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.window)

	codes, err := s.ops.ListExpirable(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, code := range codes {
		if _, err := s.ops.Expire(ctx, code, cutoff); err != nil {
			var stale *operation.StaleStateError
			var invalid *operation.InvalidTransitionError
			if errors.As(err, &stale) || errors.As(err, &invalid) {
				s.log.Info("expiration lost race, skipping", "operation", code, "error", err)
			} else {
				s.log.Warn("failed to expire operation", "operation", code, "error", err)
			}
			continue
		}
		expired++
		s.log.Info("operation auto-expired", "operation", code)
	}

	return expired, nil
}
