package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cambio-core/internal/operation"
)

// stubService records ListExpirable/Expire calls against a fixed candidate set.
type stubService struct {
	mu      sync.Mutex
	created map[string]time.Time
	expired []string
	fail    map[string]error
}

func newStubService() *stubService {
	return &stubService{
		created: make(map[string]time.Time),
		fail:    make(map[string]error),
	}
}

func (s *stubService) ListExpirable(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for code, createdAt := range s.created {
		if !createdAt.After(cutoff) {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (s *stubService) Expire(ctx context.Context, code string, cutoff time.Time) (*operation.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[code]; ok {
		return nil, err
	}
	delete(s.created, code)
	s.expired = append(s.expired, code)
	return &operation.Operation{Code: code, Status: operation.StatusExpirada}, nil
}

func TestSweep_ExpiresOnlyStaleOperations(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stub := newStubService()
	stub.created["EXP-1"] = now.Add(-16 * time.Minute) // stale
	stub.created["EXP-2"] = now.Add(-10 * time.Minute) // inside the window

	sweeper := NewSweeper(stub, time.Minute, 15*time.Minute, nil)
	sweeper.SetClock(func() time.Time { return now })

	expired, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, []string{"EXP-1"}, stub.expired)

	// EXP-2 still pending
	_, remains := stub.created["EXP-2"]
	assert.True(t, remains)
}

func TestSweep_ExactBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stub := newStubService()
	stub.created["EXP-3"] = now.Add(-15 * time.Minute) // exactly at the cutoff

	sweeper := NewSweeper(stub, time.Minute, 15*time.Minute, nil)
	sweeper.SetClock(func() time.Time { return now })

	expired, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestSweep_LostRaceDoesNotAbortBatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stub := newStubService()
	stub.created["EXP-4"] = now.Add(-20 * time.Minute)
	stub.created["EXP-5"] = now.Add(-20 * time.Minute)
	stub.created["EXP-6"] = now.Add(-20 * time.Minute)
	stub.fail["EXP-5"] = &operation.StaleStateError{
		OperationCode: "EXP-5",
		Expected:      operation.StatusPendiente,
		Actual:        operation.StatusCompletada,
	}

	sweeper := NewSweeper(stub, time.Minute, 15*time.Minute, nil)
	sweeper.SetClock(func() time.Time { return now })

	expired, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	assert.NotContains(t, stub.expired, "EXP-5")
}

func TestSweep_OtherErrorsAreSkippedToo(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stub := newStubService()
	stub.created["EXP-7"] = now.Add(-20 * time.Minute)
	stub.created["EXP-8"] = now.Add(-20 * time.Minute)
	stub.fail["EXP-7"] = fmt.Errorf("store hiccup")

	sweeper := NewSweeper(stub, time.Minute, 15*time.Minute, nil)
	sweeper.SetClock(func() time.Time { return now })

	expired, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestSweep_Rescan_IsNoOp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stub := newStubService()
	stub.created["EXP-9"] = now.Add(-20 * time.Minute)

	sweeper := NewSweeper(stub, time.Minute, 15*time.Minute, nil)
	sweeper.SetClock(func() time.Time { return now })

	expired, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	expired, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestStartStop(t *testing.T) {
	stub := newStubService()
	sweeper := NewSweeper(stub, 5*time.Millisecond, 15*time.Minute, nil)

	sweeper.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	sweeper.Stop()

	// the loop goroutine is gone after Stop returns
	select {
	case <-sweeper.done:
	default:
		t.Fatal("sweep loop still running after Stop")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	stub := newStubService()
	sweeper := NewSweeper(stub, 5*time.Millisecond, 15*time.Minute, nil)

	sweeper.Start(context.Background())
	first := sweeper.done
	sweeper.Start(context.Background()) // no second loop
	assert.True(t, first == sweeper.done, "second Start must not replace the running loop")

	sweeper.Stop()
	sweeper.Stop() // no panic on a stopped sweeper

	sweeper.Start(context.Background()) // restart after Stop is allowed
	sweeper.Stop()
}

func TestStop_BeforeStart(t *testing.T) {
	sweeper := NewSweeper(newStubService(), time.Minute, 15*time.Minute, nil)
	sweeper.Stop() // no-op
}

func TestDefaults(t *testing.T) {
	sweeper := NewSweeper(newStubService(), 0, 0, nil)
	assert.Equal(t, DefaultInterval, sweeper.interval)
	assert.Equal(t, DefaultWindow, sweeper.window)
}
