// Package leadership elects a single maintenance runner across memorypg
// instances.
//
// Promotion and cleanup scan shared tables, so running them from every
// instance wastes work and multiplies tier-conflict retries. The elector
// holds a TTL lease in PostgreSQL; only the lease holder should start the
// maintenance services, and it must renew the lease before it expires or
// another instance takes over.
package leadership

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/memorypg/storage"
)

// Default configuration values
const (
	DefaultLeaseTTL        = 30 * time.Second
	DefaultElectionPeriod  = 10 * time.Second
	DefaultReelectionDelay = 5 * time.Second
)

// Config holds configuration for leader election.
type Config struct {
	// LeaseTTL is how long the lease stays valid without renewal.
	// Default: 30 seconds
	LeaseTTL time.Duration

	// ElectionPeriod is how often a non-leader retries election.
	// Default: 10 seconds
	ElectionPeriod time.Duration

	// ReelectionDelay is how often the leader renews its lease. Must be
	// shorter than LeaseTTL.
	// Default: 5 seconds
	ReelectionDelay time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LeaseTTL:        DefaultLeaseTTL,
		ElectionPeriod:  DefaultElectionPeriod,
		ReelectionDelay: DefaultReelectionDelay,
	}
}

// Callbacks are invoked on leadership transitions. Start maintenance
// services in OnBecameLeader and stop them in OnLostLeadership.
type Callbacks struct {
	// OnBecameLeader is called when this instance takes the lease.
	OnBecameLeader func(ctx context.Context)

	// OnLostLeadership is called when the lease is lost, whether through
	// a failed renewal, Resign, or Stop.
	OnLostLeadership func(ctx context.Context)
}

// Elector competes for the maintenance lease on behalf of one instance.
type Elector struct {
	store      storage.Store
	instanceID string
	config     *Config
	callbacks  Callbacks

	mu       sync.RWMutex
	isLeader bool

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewElector creates an elector for the given instance ID. The ID must be
// unique per process, a UUID or hostname-pid pair works well.
func NewElector(store storage.Store, instanceID string, config *Config, callbacks Callbacks) *Elector {
	if config == nil {
		config = DefaultConfig()
	}

	return &Elector{
		store:      store,
		instanceID: instanceID,
		config:     config,
		callbacks:  callbacks,
		done:       make(chan struct{}),
	}
}

// Start begins competing for the lease in a background goroutine
func (e *Elector) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, e.cancel = context.WithCancel(ctx)
	go e.run(ctx)

	return nil
}

// Stop halts the election loop and resigns the lease if held
func (e *Elector) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.cancel()
	<-e.done

	if e.IsLeader() {
		// Best effort resignation so another instance can take over
		// immediately instead of waiting out the TTL
		resignCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = e.store.LeaderResign(resignCtx, e.instanceID)
	}
	e.setLeader(ctx, false)

	e.started.Store(false)
	return nil
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// IsRunning reports whether the election loop is active.
func (e *Elector) IsRunning() bool {
	return e.started.Load()
}

// Resign gives up the lease without stopping the election loop. The
// instance may win it back on a later tick.
func (e *Elector) Resign(ctx context.Context) error {
	if !e.IsLeader() {
		return nil
	}

	if err := e.store.LeaderResign(ctx, e.instanceID); err != nil {
		return err
	}
	e.setLeader(ctx, false)
	return nil
}

// run competes for the lease until the context is cancelled. The first tick
// fires immediately so a fresh instance does not idle out a full election
// period before competing.
func (e *Elector) run(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.tick(ctx)
		}

		if e.IsLeader() {
			timer.Reset(e.config.ReelectionDelay)
		} else {
			timer.Reset(e.config.ElectionPeriod)
		}
	}
}

// tick renews the lease when held, otherwise tries to take it.
func (e *Elector) tick(ctx context.Context) {
	params := &storage.LeaderElectParams{
		LeaderID: e.instanceID,
		TTL:      e.config.LeaseTTL,
	}

	if e.IsLeader() {
		// A failed renewal demotes; the lease may already belong to
		// someone else.
		renewed, err := e.store.LeaderAttemptReelect(ctx, params)
		e.setLeader(ctx, err == nil && renewed)
		return
	}

	elected, err := e.store.LeaderAttemptElect(ctx, params)
	if err != nil {
		// Transient store errors are retried on the next tick
		return
	}
	e.setLeader(ctx, elected)
}

// setLeader records the leadership state and fires the transition callback
// when it changed.
func (e *Elector) setLeader(ctx context.Context, leader bool) {
	e.mu.Lock()
	changed := e.isLeader != leader
	e.isLeader = leader
	e.mu.Unlock()

	if !changed {
		return
	}
	if leader {
		if e.callbacks.OnBecameLeader != nil {
			e.callbacks.OnBecameLeader(ctx)
		}
	} else if e.callbacks.OnLostLeadership != nil {
		e.callbacks.OnLostLeadership(ctx)
	}
}
