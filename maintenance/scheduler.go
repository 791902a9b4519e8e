package maintenance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Default cron expressions for the scheduler.
const (
	DefaultPromotionSpec = "0 * * * *"   // hourly
	DefaultCleanupSpec   = "30 */6 * * *" // every 6 hours, offset from promotion
)

// SchedulerConfig holds cron expressions for the maintenance jobs.
// Standard 5-field cron syntax.
type SchedulerConfig struct {
	PromotionSpec string `toml:"promotion_spec"`
	CleanupSpec   string `toml:"cleanup_spec"`
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PromotionSpec: DefaultPromotionSpec,
		CleanupSpec:   DefaultCleanupSpec,
	}
}

// Scheduler runs the promotion and cleanup services on cron schedules
// instead of their fixed-interval loops. Use it when maintenance should
// run at predictable wall-clock times.
type Scheduler struct {
	promotion *Promotion
	cleanup   *Cleanup
	config    *SchedulerConfig

	cron    *rcron.Cron
	started atomic.Bool
}

// NewScheduler creates a scheduler for the given services. Either service
// may be nil to leave it unscheduled.
func NewScheduler(promotion *Promotion, cleanup *Cleanup, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.PromotionSpec == "" {
		config.PromotionSpec = DefaultPromotionSpec
	}
	if config.CleanupSpec == "" {
		config.CleanupSpec = DefaultCleanupSpec
	}

	return &Scheduler{
		promotion: promotion,
		cleanup:   cleanup,
		config:    config,
	}
}

// Start registers the jobs and begins the cron loop. Jobs run with the
// given context until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.cron = rcron.New()

	if s.promotion != nil {
		_, err := s.cron.AddFunc(s.config.PromotionSpec, func() {
			s.promotion.runPromotion(ctx)
		})
		if err != nil {
			s.started.Store(false)
			return fmt.Errorf("register promotion job: %w", err)
		}
	}

	if s.cleanup != nil {
		_, err := s.cron.AddFunc(s.config.CleanupSpec, func() {
			s.cleanup.runCleanup(ctx)
		})
		if err != nil {
			s.started.Store(false)
			return fmt.Errorf("register cleanup job: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs, up to the context
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for running jobs")
	}

	s.started.Store(false)
	return nil
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	return s.started.Load()
}
