// Package maintenance provides the background services of the memory
// engine: promotion of mid-term memories to long-term status, and cleanup
// of expired or inconsistent records. Both run decoupled from any single
// conversation and only ever read-then-write whole memory records by ID.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/memorypg/embedding"
	"github.com/youssefsiam38/memorypg/hooks"
	"github.com/youssefsiam38/memorypg/memory"
	"github.com/youssefsiam38/memorypg/storage"
)

// Default promotion configuration values
const (
	DefaultPromotionInterval  = 1 * time.Hour
	DefaultDaysThreshold      = 30
	DefaultMinAccessCount     = 3
	DefaultPromotionBatchSize = 50
)

// PromotionConfig holds configuration for the promotion service.
type PromotionConfig struct {
	// Enabled turns automatic promotion on or off.
	Enabled bool `toml:"enabled"`

	// DaysThreshold is the recency bar: a record is eligible once its
	// last access is at least this many days in the past.
	DaysThreshold int `toml:"days_threshold"`

	// MinAccessCount is the usage bar: a record needs at least this many
	// accesses to be eligible.
	MinAccessCount int `toml:"min_access_count"`

	// BatchSize is the maximum number of candidates examined per run.
	// Default: 50
	BatchSize int `toml:"batch_size"`

	// Interval is how often the background loop runs.
	// Default: 1 hour
	Interval time.Duration `toml:"-"`

	// OnReport is called with the report after each run.
	OnReport func(report *PromotionReport) `toml:"-"`

	// OnError is called when a run-level operation fails.
	OnError func(err error) `toml:"-"`

	// Hooks, when set, has its after-promotion hooks triggered once per
	// promoted record.
	Hooks *hooks.Registry `toml:"-"`
}

// DefaultPromotionConfig returns the default promotion configuration.
func DefaultPromotionConfig() *PromotionConfig {
	return &PromotionConfig{
		Enabled:        true,
		DaysThreshold:  DefaultDaysThreshold,
		MinAccessCount: DefaultMinAccessCount,
		BatchSize:      DefaultPromotionBatchSize,
		Interval:       DefaultPromotionInterval,
	}
}

// PromotionReport holds the results of one promotion run.
type PromotionReport struct {
	// Scanned is the number of candidates examined.
	Scanned int

	// Promoted is the number of records moved to long-term.
	Promoted int

	// Skipped is the number of candidates that did not meet eligibility.
	Skipped int

	// Errors contains embedding failures and storage errors. Embedding
	// failures never block a tier transition; they are only reported.
	Errors []error
}

// Promotion promotes eligible mid-term memories to long-term status on a
// timer or on explicit invocation.
type Promotion struct {
	memories *memory.Service
	embedder embedding.Store
	config   *PromotionConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewPromotion creates a new promotion service. A nil embedder defaults to
// embedding.Noop.
func NewPromotion(memories *memory.Service, embedder embedding.Store, config *PromotionConfig) *Promotion {
	if config == nil {
		config = DefaultPromotionConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultPromotionBatchSize
	}
	if config.Interval <= 0 {
		config.Interval = DefaultPromotionInterval
	}
	if embedder == nil {
		embedder = embedding.Noop{}
	}

	return &Promotion{
		memories: memories,
		embedder: embedder,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Start begins the promotion loop. It returns immediately and runs in a
// goroutine.
func (p *Promotion) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)

	return nil
}

// Stop stops the promotion loop.
func (p *Promotion) Stop(ctx context.Context) error {
	if !p.started.Load() {
		return ErrNotStarted
	}

	p.cancel()
	<-p.done

	p.started.Store(false)
	return nil
}

// IsRunning returns true if the promotion service is running.
func (p *Promotion) IsRunning() bool {
	return p.started.Load()
}

func (p *Promotion) run(ctx context.Context) {
	defer close(p.done)

	p.runPromotion(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runPromotion(ctx)
		}
	}
}

func (p *Promotion) runPromotion(ctx context.Context) {
	report := p.RunOnce(ctx)

	if p.config.OnReport != nil {
		p.config.OnReport(report)
	}
	if p.config.OnError != nil {
		for _, err := range report.Errors {
			p.config.OnError(err)
		}
	}
}

// RunOnce performs one promotion pass and returns the report. It can be
// called directly for manual promotion.
func (p *Promotion) RunOnce(ctx context.Context) *PromotionReport {
	report := &PromotionReport{}

	if !p.config.Enabled {
		return report
	}

	candidates, err := p.memories.GetMemoriesForPromotion(ctx, p.config.BatchSize)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("failed to load promotion candidates: %w", err))
		return report
	}

	now := time.Now()
	recencyBar := time.Duration(p.config.DaysThreshold) * 24 * time.Hour

	for _, rec := range candidates {
		report.Scanned++

		if rec.AccessCount < p.config.MinAccessCount || now.Sub(rec.LastAccessedAt) < recencyBar {
			report.Skipped++
			continue
		}

		if err := p.memories.PromoteToLongTerm(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrTierConflict) {
				// A concurrent writer touched the record; leave it for the
				// next run.
				report.Skipped++
				continue
			}
			report.Errors = append(report.Errors, fmt.Errorf("failed to promote %s: %w", rec.ID, err))
			continue
		}
		report.Promoted++

		if p.config.Hooks != nil {
			if err := p.config.Hooks.TriggerAfterPromotion(ctx, rec); err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("after-promotion hook for %s: %w", rec.ID, err))
			}
		}

		// Fire-and-forget: an embedding failure does not block the tier
		// transition, only shows up in the report.
		if err := p.embedder.Upsert(ctx, rec.ID, rec.Summary); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("failed to embed %s: %w", rec.ID, err))
		}
	}

	return report
}
