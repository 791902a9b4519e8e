package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/memorypg/embedding"
	"github.com/youssefsiam38/memorypg/storage"
)

// Default cleanup configuration values
const (
	DefaultCleanupInterval = 6 * time.Hour
	DefaultRetentionDays   = 90
	DefaultMinAccessFloor  = 2
)

// CleanupConfig holds configuration for the cleanup service.
type CleanupConfig struct {
	// RetentionDays is the horizon after which unused mid-term records
	// expire. Long-term records never expire.
	RetentionDays int `toml:"retention_days"`

	// MinAccessFloor protects records with at least this many accesses
	// from expiry regardless of age.
	MinAccessFloor int `toml:"min_access_floor"`

	// Interval is how often the background loop runs.
	// Default: 6 hours
	Interval time.Duration `toml:"-"`

	// OnReport is called with the report after each run.
	OnReport func(report *CleanupReport) `toml:"-"`

	// OnError is called for each pass failure.
	OnError func(err error) `toml:"-"`
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		RetentionDays:  DefaultRetentionDays,
		MinAccessFloor: DefaultMinAccessFloor,
		Interval:       DefaultCleanupInterval,
	}
}

// CleanupReport holds the results of one cleanup run.
type CleanupReport struct {
	// ExpiredMidTerm is the number of expired mid-term records deleted.
	ExpiredMidTerm int

	// DanglingCount is the number of long-term records removed because
	// their originating transcript no longer exists.
	DanglingCount int

	// OrphanedCount is the number of vector-store entries deleted because
	// no memory record backs them.
	OrphanedCount int

	// Errors contains pass failures. A failure in one pass does not abort
	// the others.
	Errors []error
}

// Cleanup expires stale mid-term memories and repairs inconsistencies
// between the memory store and its collaborators.
type Cleanup struct {
	store    storage.Store
	embedder embedding.Store
	config   *CleanupConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewCleanup creates a new cleanup service. A nil embedder defaults to
// embedding.Noop.
func NewCleanup(store storage.Store, embedder embedding.Store, config *CleanupConfig) *Cleanup {
	if config == nil {
		config = DefaultCleanupConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultCleanupInterval
	}
	if embedder == nil {
		embedder = embedding.Noop{}
	}

	return &Cleanup{
		store:    store,
		embedder: embedder,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop. It returns immediately and runs in a
// goroutine.
func (c *Cleanup) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)

	return nil
}

// Stop stops the cleanup loop.
func (c *Cleanup) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}

	c.cancel()
	<-c.done

	c.started.Store(false)
	return nil
}

// IsRunning returns true if the cleanup service is running.
func (c *Cleanup) IsRunning() bool {
	return c.started.Load()
}

func (c *Cleanup) run(ctx context.Context) {
	defer close(c.done)

	c.runCleanup(ctx)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

func (c *Cleanup) runCleanup(ctx context.Context) {
	report := c.RunOnce(ctx)

	if c.config.OnReport != nil {
		c.config.OnReport(report)
	}
	if c.config.OnError != nil {
		for _, err := range report.Errors {
			c.config.OnError(err)
		}
	}
}

// RunOnce performs all three cleanup passes once and returns the report.
// Each pass is best-effort: a failure is appended to Errors and the
// remaining passes still run.
func (c *Cleanup) RunOnce(ctx context.Context) *CleanupReport {
	report := &CleanupReport{}

	expired, err := c.expireMidTerm(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err)
	}
	report.ExpiredMidTerm = expired

	dangling, err := c.repairDanglingPromotions(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err)
	}
	report.DanglingCount = dangling

	orphaned, err := c.repairOrphanedEmbeddings(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err)
	}
	report.OrphanedCount = orphaned

	return report
}

// expireMidTerm deletes mid-term records past the retention horizon with
// access counts below the floor. Long-term records are never expired.
func (c *Cleanup) expireMidTerm(ctx context.Context) (int, error) {
	horizon := time.Now().AddDate(0, 0, -c.config.RetentionDays)

	expired, err := c.store.GetExpiredMidTerm(ctx, horizon, c.config.MinAccessFloor)
	if err != nil {
		return 0, fmt.Errorf("expiry pass: %w", err)
	}

	count := 0
	for _, rec := range expired {
		if err := c.store.DeleteCompactedSession(ctx, rec.ID); err != nil {
			// Continue with other records even if one fails
			continue
		}
		count++
	}
	return count, nil
}

// repairDanglingPromotions removes long-term records whose originating
// transcript no longer exists. Re-tagging to mid-term would violate the
// one-way tier invariant, so the record and its embedding are deleted.
func (c *Cleanup) repairDanglingPromotions(ctx context.Context) (int, error) {
	longTerm, err := c.store.GetLongTermMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("dangling pass: %w", err)
	}

	count := 0
	for _, rec := range longTerm {
		exists, err := c.store.SessionHasMessages(ctx, rec.SessionID)
		if err != nil || exists {
			continue
		}

		if err := c.store.DeleteCompactedSession(ctx, rec.ID); err != nil {
			continue
		}
		_ = c.embedder.Delete(ctx, rec.ID)
		count++
	}
	return count, nil
}

// repairOrphanedEmbeddings deletes vector-store entries with no backing
// memory record. Candidates from the embedder are verified against the
// store before deletion.
func (c *Cleanup) repairOrphanedEmbeddings(ctx context.Context) (int, error) {
	orphans, err := c.embedder.ListOrphaned(ctx)
	if err != nil {
		return 0, fmt.Errorf("orphan pass: %w", err)
	}

	count := 0
	for _, id := range orphans {
		_, err := c.store.GetCompactedSession(ctx, id)
		if err == nil {
			// The record exists after all; not an orphan.
			continue
		}
		if !errors.Is(err, storage.ErrMemoryNotFound) {
			continue
		}

		if err := c.embedder.Delete(ctx, id); err != nil {
			continue
		}
		count++
	}
	return count, nil
}
