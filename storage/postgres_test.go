package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/memorypg/types"
)

// newTestStore connects via DATABASE_URL and migrates the schema. Tests are
// skipped when the variable is unset.
func newTestStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate schema: %v", err)
	}

	return NewPostgresStore(pool), pool
}

func TestPostgresStore_MessageRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	msg := types.NewToolMessage(sessionID, "search", "result payload")
	msg.SetTokenCount(37)

	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Role != types.RoleTool || got.ToolName != "search" || got.ToolOutput != "result payload" {
		t.Errorf("round trip lost tool fields: %+v", got)
	}
	if got.TokenCount == nil || *got.TokenCount != 37 {
		t.Errorf("TokenCount = %v, want 37", got.TokenCount)
	}
	if got.State != types.StateActive {
		t.Errorf("State = %s, want active", got.State)
	}

	if _, err := store.GetMessage(ctx, uuid.New()); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("GetMessage(random) = %v, want ErrMessageNotFound", err)
	}
}

func TestPostgresStore_ActiveFilterAndMark(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	var messages []*types.Message
	for i := 0; i < 4; i++ {
		messages = append(messages, types.NewMessage(sessionID, types.RoleUser, "m"))
		// Distinct created_at for stable ordering
		messages[i].CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
	}
	if err := store.SaveMessages(ctx, messages); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	condenseID := uuid.New()
	if err := store.MarkCondensed(ctx, []uuid.UUID{messages[0].ID, messages[1].ID}, condenseID); err != nil {
		t.Fatalf("MarkCondensed failed: %v", err)
	}

	active, err := store.GetActiveMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetActiveMessages failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}

	all, err := store.GetMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("all = %d, want 4", len(all))
	}
	if all[0].State != types.StateCondensed || all[0].ReplacedBy == nil || *all[0].ReplacedBy != condenseID {
		t.Errorf("condensed message not linked: %+v", all[0])
	}

	// Marking again must not re-flag non-active messages.
	otherID := uuid.New()
	if err := store.MarkTruncated(ctx, []uuid.UUID{messages[0].ID}, otherID); err != nil {
		t.Fatalf("MarkTruncated failed: %v", err)
	}
	got, _ := store.GetMessage(ctx, messages[0].ID)
	if got.State != types.StateCondensed {
		t.Errorf("non-active message was re-flagged to %s", got.State)
	}
}

func TestPostgresStore_TransactRollsBack(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	boom := errors.New("boom")
	err := store.Transact(ctx, func(ctx context.Context) error {
		if err := store.SaveMessage(ctx, types.NewMessage(sessionID, types.RoleUser, "doomed")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transact error = %v, want boom", err)
	}

	has, err := store.SessionHasMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("SessionHasMessages failed: %v", err)
	}
	if has {
		t.Error("rolled-back message is visible")
	}
}

func TestPostgresStore_CompactedSessionRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &types.CompactedSession{
		ID:             uuid.New(),
		SessionID:      uuid.New(),
		Summary:        "summary",
		KeyTopics:      []string{"a", "b"},
		Decisions:      []string{"c"},
		MessageStart:   uuid.New(),
		MessageEnd:     uuid.New(),
		CreatedAt:      now,
		LastAccessedAt: now,
		Tier:           types.TierMidTerm,
		TierUpdatedAt:  now,
	}
	if err := store.SaveCompactedSession(ctx, rec); err != nil {
		t.Fatalf("SaveCompactedSession failed: %v", err)
	}

	got, err := store.GetCompactedSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetCompactedSession failed: %v", err)
	}
	if got.Summary != "summary" || len(got.KeyTopics) != 2 || len(got.Decisions) != 1 {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Tier != types.TierMidTerm {
		t.Errorf("Tier = %s", got.Tier)
	}
}

func TestPostgresStore_UpdateTierCAS(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &types.CompactedSession{
		ID:             uuid.New(),
		SessionID:      uuid.New(),
		Summary:        "s",
		MessageStart:   uuid.New(),
		MessageEnd:     uuid.New(),
		CreatedAt:      now,
		LastAccessedAt: now,
		Tier:           types.TierMidTerm,
		TierUpdatedAt:  now,
	}
	if err := store.SaveCompactedSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	history := []types.PromotionEvent{{From: types.TierMidTerm, To: types.TierLongTerm, At: now}}

	if err := store.UpdateTier(ctx, rec.ID, types.TierLongTerm, history, now.Add(time.Second), now); err != nil {
		t.Fatalf("first UpdateTier failed: %v", err)
	}

	// Second writer with the stale timestamp loses.
	err := store.UpdateTier(ctx, rec.ID, types.TierLongTerm, history, now.Add(2*time.Second), now)
	if !errors.Is(err, ErrTierConflict) {
		t.Errorf("stale UpdateTier = %v, want ErrTierConflict", err)
	}

	// Unknown records report not-found, not conflict.
	err = store.UpdateTier(ctx, uuid.New(), types.TierLongTerm, history, now, now)
	if !errors.Is(err, ErrMemoryNotFound) {
		t.Errorf("UpdateTier(random) = %v, want ErrMemoryNotFound", err)
	}

	got, _ := store.GetCompactedSession(ctx, rec.ID)
	if got.Tier != types.TierLongTerm || len(got.PromotionHistory) != 1 {
		t.Errorf("record after CAS: %+v", got)
	}
}

func TestPostgresStore_RecordAccessAndPromotionQuery(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &types.CompactedSession{
		ID:             uuid.New(),
		SessionID:      uuid.New(),
		Summary:        "s",
		MessageStart:   uuid.New(),
		MessageEnd:     uuid.New(),
		CreatedAt:      now,
		LastAccessedAt: now,
		Tier:           types.TierMidTerm,
		TierUpdatedAt:  now,
	}
	if err := store.SaveCompactedSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := store.RecordAccess(ctx, rec.ID); err != nil {
			t.Fatalf("RecordAccess failed: %v", err)
		}
	}

	got, _ := store.GetCompactedSession(ctx, rec.ID)
	if got.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", got.AccessCount)
	}

	candidates, err := store.GetMemoriesForPromotion(ctx, 1000)
	if err != nil {
		t.Fatalf("GetMemoriesForPromotion failed: %v", err)
	}
	found := false
	for _, c := range candidates {
		if c.ID == rec.ID {
			found = true
		}
	}
	if !found {
		t.Error("record missing from promotion candidates")
	}
}

func TestPostgresStore_CheckpointRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	cp := &types.Checkpoint{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Name:             "integration",
		Summary:          "2 messages",
		MessageCount:     2,
		TokenCount:       80,
		MessagesSnapshot: []byte(`[]`),
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if got.Name != "integration" || got.MessageCount != 2 || got.TokenCount != 80 {
		t.Errorf("round trip lost fields: %+v", got)
	}

	msg := types.NewMessage(sessionID, types.RoleUser, "captured")
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := store.MarkCheckpointed(ctx, []uuid.UUID{msg.ID}, cp.ID); err != nil {
		t.Fatalf("MarkCheckpointed failed: %v", err)
	}
	stamped, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if stamped.CheckpointID == nil || *stamped.CheckpointID != cp.ID {
		t.Errorf("CheckpointID = %v, want %s", stamped.CheckpointID, cp.ID)
	}

	deleted, err := store.DeleteCheckpointsBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("DeleteCheckpointsBySession failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
