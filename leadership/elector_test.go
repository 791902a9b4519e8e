package leadership

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssefsiam38/memorypg/internal/testutil"
	"github.com/youssefsiam38/memorypg/storage"
)

func fastConfig() *Config {
	return &Config{
		LeaseTTL:        200 * time.Millisecond,
		ElectionPeriod:  10 * time.Millisecond,
		ReelectionDelay: 10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestElector_BecomesLeader(t *testing.T) {
	store := testutil.NewMemStore()
	ctx := context.Background()

	var became atomic.Int32
	elector := NewElector(store, "instance-1", fastConfig(), Callbacks{
		OnBecameLeader: func(ctx context.Context) { became.Add(1) },
	})

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer elector.Stop(ctx)

	if !waitFor(t, time.Second, elector.IsLeader) {
		t.Fatal("elector never became leader")
	}
	if became.Load() != 1 {
		t.Errorf("OnBecameLeader called %d times, want 1", became.Load())
	}
}

func TestElector_SingleLeader(t *testing.T) {
	store := testutil.NewMemStore()
	ctx := context.Background()

	first := NewElector(store, "instance-1", fastConfig(), Callbacks{})
	second := NewElector(store, "instance-2", fastConfig(), Callbacks{})

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop(ctx)

	if !waitFor(t, time.Second, first.IsLeader) {
		t.Fatal("first elector never became leader")
	}

	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer second.Stop(ctx)

	// Give the second elector several election ticks
	time.Sleep(100 * time.Millisecond)

	if second.IsLeader() {
		t.Error("second elector became leader while the lease is held")
	}
	if !first.IsLeader() {
		t.Error("first elector lost a lease it kept renewing")
	}
}

func TestElector_ResignAllowsTakeover(t *testing.T) {
	store := testutil.NewMemStore()
	ctx := context.Background()

	var lost atomic.Int32
	first := NewElector(store, "instance-1", &Config{
		LeaseTTL: 200 * time.Millisecond,
		// Long delays so the first elector does not immediately win the
		// lease back after resigning
		ElectionPeriod:  time.Second,
		ReelectionDelay: time.Second,
	}, Callbacks{
		OnLostLeadership: func(ctx context.Context) { lost.Add(1) },
	})
	second := NewElector(store, "instance-2", fastConfig(), Callbacks{})

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop(ctx)

	if !waitFor(t, time.Second, first.IsLeader) {
		t.Fatal("first elector never became leader")
	}

	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer second.Stop(ctx)

	if err := first.Resign(ctx); err != nil {
		t.Fatalf("Resign failed: %v", err)
	}
	if lost.Load() != 1 {
		t.Errorf("OnLostLeadership called %d times, want 1", lost.Load())
	}

	if !waitFor(t, time.Second, second.IsLeader) {
		t.Fatal("second elector never took over after resignation")
	}
}

func TestElector_StartStop(t *testing.T) {
	store := testutil.NewMemStore()
	ctx := context.Background()

	elector := NewElector(store, "instance-1", fastConfig(), Callbacks{})

	if err := elector.Stop(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := elector.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elector.IsRunning() {
		t.Error("elector still running after Stop")
	}
	if elector.IsLeader() {
		t.Error("elector still leader after Stop")
	}
}

// failingElectStore simulates a store outage during election.
type failingElectStore struct {
	storage.Store
	err error
}

func (s *failingElectStore) LeaderAttemptElect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	return false, s.err
}

// droppingRenewalStore lets renewals be failed on demand.
type droppingRenewalStore struct {
	storage.Store
	drop atomic.Bool
}

func (s *droppingRenewalStore) LeaderAttemptReelect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	if s.drop.Load() {
		return false, nil
	}
	return s.Store.LeaderAttemptReelect(ctx, params)
}

func TestElector_FailedRenewalDemotes(t *testing.T) {
	store := &droppingRenewalStore{Store: testutil.NewMemStore()}
	ctx := context.Background()

	var became, lost atomic.Int32
	elector := NewElector(store, "instance-1", fastConfig(), Callbacks{
		OnBecameLeader:   func(ctx context.Context) { became.Add(1) },
		OnLostLeadership: func(ctx context.Context) { lost.Add(1) },
	})

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer elector.Stop(ctx)

	if !waitFor(t, time.Second, elector.IsLeader) {
		t.Fatal("elector never became leader")
	}

	store.drop.Store(true)
	if !waitFor(t, time.Second, func() bool { return !elector.IsLeader() }) {
		t.Fatal("elector kept leadership through failed renewals")
	}
	if lost.Load() != 1 {
		t.Errorf("OnLostLeadership called %d times, want 1", lost.Load())
	}

	// Renewals work again; the loop wins the lease back and fires the
	// transition callback a second time.
	store.drop.Store(false)
	if !waitFor(t, time.Second, elector.IsLeader) {
		t.Fatal("elector never recovered leadership")
	}
	if became.Load() != 2 {
		t.Errorf("OnBecameLeader called %d times, want 2", became.Load())
	}
}

func TestElector_StoreErrorDoesNotElect(t *testing.T) {
	store := &failingElectStore{Store: testutil.NewMemStore(), err: errors.New("connection refused")}
	ctx := context.Background()

	elector := NewElector(store, "instance-1", fastConfig(), Callbacks{})
	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer elector.Stop(ctx)

	time.Sleep(50 * time.Millisecond)

	if elector.IsLeader() {
		t.Error("elector became leader despite store errors")
	}
}
