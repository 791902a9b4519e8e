package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/memorypg/hooks"
	"github.com/youssefsiam38/memorypg/internal/testutil"
	"github.com/youssefsiam38/memorypg/memory"
	"github.com/youssefsiam38/memorypg/types"
)

type stubEmbedder struct {
	mu        sync.Mutex
	upserts   []uuid.UUID
	deletes   []uuid.UUID
	orphans   []uuid.UUID
	upsertErr error
	listErr   error
}

func (s *stubEmbedder) Upsert(ctx context.Context, memoryID uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, memoryID)
	return nil
}

func (s *stubEmbedder) ListOrphaned(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]uuid.UUID(nil), s.orphans...), nil
}

func (s *stubEmbedder) Delete(ctx context.Context, memoryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, memoryID)
	return nil
}

func seedMemoryRecord(t *testing.T, store *testutil.MemStore, tier types.Tier, accessCount int, lastAccess, created time.Time) *types.CompactedSession {
	t.Helper()

	rec := &types.CompactedSession{
		ID:             uuid.New(),
		SessionID:      uuid.New(),
		Summary:        "summary",
		MessageStart:   uuid.New(),
		MessageEnd:     uuid.New(),
		CreatedAt:      created,
		LastAccessedAt: lastAccess,
		AccessCount:    accessCount,
		Tier:           tier,
		TierUpdatedAt:  created,
	}
	if err := store.SaveCompactedSession(context.Background(), rec); err != nil {
		t.Fatalf("seeding record failed: %v", err)
	}
	return rec
}

func promotionTestConfig() *PromotionConfig {
	return &PromotionConfig{
		Enabled:        true,
		DaysThreshold:  30,
		MinAccessCount: 3,
		BatchSize:      50,
		Interval:       time.Hour,
	}
}

func TestPromotion_RunOnceEligibility(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		accessCount  int
		lastAccess   time.Time
		wantPromoted int
		wantSkipped  int
	}{
		{
			name:         "frequently used and stale",
			accessCount:  5,
			lastAccess:   now.AddDate(0, 0, -40),
			wantPromoted: 1,
		},
		{
			name:        "too few accesses",
			accessCount: 2,
			lastAccess:  now.AddDate(0, 0, -40),
			wantSkipped: 1,
		},
		{
			name:        "accessed too recently",
			accessCount: 5,
			lastAccess:  now.AddDate(0, 0, -10),
			wantSkipped: 1,
		},
		{
			name:         "exactly at both bars",
			accessCount:  3,
			lastAccess:   now.Add(-31 * 24 * time.Hour),
			wantPromoted: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemStore()
			rec := seedMemoryRecord(t, store, types.TierMidTerm, tt.accessCount, tt.lastAccess, now.AddDate(0, 0, -60))

			p := NewPromotion(memory.NewService(store), nil, promotionTestConfig())
			report := p.RunOnce(context.Background())

			if report.Scanned != 1 {
				t.Errorf("Scanned = %d, want 1", report.Scanned)
			}
			if report.Promoted != tt.wantPromoted {
				t.Errorf("Promoted = %d, want %d", report.Promoted, tt.wantPromoted)
			}
			if report.Skipped != tt.wantSkipped {
				t.Errorf("Skipped = %d, want %d", report.Skipped, tt.wantSkipped)
			}

			stored, _ := store.GetCompactedSession(context.Background(), rec.ID)
			wantTier := types.TierMidTerm
			if tt.wantPromoted > 0 {
				wantTier = types.TierLongTerm
			}
			if stored.Tier != wantTier {
				t.Errorf("stored tier = %s, want %s", stored.Tier, wantTier)
			}
		})
	}
}

func TestPromotion_Disabled(t *testing.T) {
	store := testutil.NewMemStore()
	seedMemoryRecord(t, store, types.TierMidTerm, 10, time.Now().AddDate(0, 0, -60), time.Now().AddDate(0, 0, -90))

	cfg := promotionTestConfig()
	cfg.Enabled = false
	p := NewPromotion(memory.NewService(store), nil, cfg)

	report := p.RunOnce(context.Background())
	if report.Scanned != 0 || report.Promoted != 0 {
		t.Errorf("disabled promotion did work: %+v", report)
	}
}

func TestPromotion_EmbedsPromotedRecords(t *testing.T) {
	store := testutil.NewMemStore()
	rec := seedMemoryRecord(t, store, types.TierMidTerm, 5, time.Now().AddDate(0, 0, -40), time.Now().AddDate(0, 0, -60))

	embedder := &stubEmbedder{}
	p := NewPromotion(memory.NewService(store), embedder, promotionTestConfig())

	report := p.RunOnce(context.Background())
	if report.Promoted != 1 {
		t.Fatalf("Promoted = %d, want 1", report.Promoted)
	}
	if len(embedder.upserts) != 1 || embedder.upserts[0] != rec.ID {
		t.Errorf("embedder upserts = %v, want [%s]", embedder.upserts, rec.ID)
	}
}

func TestPromotion_EmbeddingFailureDoesNotBlockPromotion(t *testing.T) {
	store := testutil.NewMemStore()
	rec := seedMemoryRecord(t, store, types.TierMidTerm, 5, time.Now().AddDate(0, 0, -40), time.Now().AddDate(0, 0, -60))

	embedder := &stubEmbedder{upsertErr: errors.New("vector store down")}
	p := NewPromotion(memory.NewService(store), embedder, promotionTestConfig())

	report := p.RunOnce(context.Background())
	if report.Promoted != 1 {
		t.Errorf("Promoted = %d, want 1 despite embed failure", report.Promoted)
	}
	if len(report.Errors) != 1 {
		t.Errorf("Errors = %v, want the embed failure reported", report.Errors)
	}

	stored, _ := store.GetCompactedSession(context.Background(), rec.ID)
	if stored.Tier != types.TierLongTerm {
		t.Errorf("stored tier = %s, want long-term", stored.Tier)
	}
}

func TestPromotion_TriggersAfterPromotionHooks(t *testing.T) {
	store := testutil.NewMemStore()
	rec := seedMemoryRecord(t, store, types.TierMidTerm, 5, time.Now().AddDate(0, 0, -40), time.Now().AddDate(0, 0, -60))

	registry := hooks.NewRegistry()
	var promoted []uuid.UUID
	registry.OnAfterPromotion(func(ctx context.Context, memory *types.CompactedSession) error {
		promoted = append(promoted, memory.ID)
		return nil
	})

	cfg := promotionTestConfig()
	cfg.Hooks = registry
	p := NewPromotion(memory.NewService(store), nil, cfg)

	report := p.RunOnce(context.Background())
	if report.Promoted != 1 {
		t.Fatalf("Promoted = %d, want 1", report.Promoted)
	}
	if len(promoted) != 1 || promoted[0] != rec.ID {
		t.Errorf("hook saw %v, want [%s]", promoted, rec.ID)
	}
}

func TestPromotion_BatchSizeLimitsScan(t *testing.T) {
	store := testutil.NewMemStore()
	for i := 0; i < 5; i++ {
		seedMemoryRecord(t, store, types.TierMidTerm, 5, time.Now().AddDate(0, 0, -40), time.Now().AddDate(0, 0, -60))
	}

	cfg := promotionTestConfig()
	cfg.BatchSize = 2
	p := NewPromotion(memory.NewService(store), nil, cfg)

	report := p.RunOnce(context.Background())
	if report.Scanned != 2 {
		t.Errorf("Scanned = %d, want batch size 2", report.Scanned)
	}
}

func TestPromotion_StartStop(t *testing.T) {
	store := testutil.NewMemStore()

	var mu sync.Mutex
	runs := 0
	cfg := promotionTestConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.OnReport = func(report *PromotionReport) {
		mu.Lock()
		runs++
		mu.Unlock()
	}

	p := NewPromotion(memory.NewService(store), nil, cfg)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if !p.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	time.Sleep(35 * time.Millisecond)

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if runs < 2 {
		t.Errorf("runs = %d, want at least 2 (immediate + ticker)", runs)
	}
}

func TestPromotion_StopWithoutStart(t *testing.T) {
	p := NewPromotion(memory.NewService(testutil.NewMemStore()), nil, nil)
	if err := p.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop = %v, want ErrNotStarted", err)
	}
}
