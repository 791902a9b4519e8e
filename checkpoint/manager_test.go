package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/memorypg/internal/testutil"
	"github.com/youssefsiam38/memorypg/storage"
	"github.com/youssefsiam38/memorypg/types"
)

func seedSession(t *testing.T, store *testutil.MemStore, sessionID uuid.UUID, n int) []*types.Message {
	t.Helper()

	var messages []*types.Message
	for i := 0; i < n; i++ {
		msg := types.NewMessage(sessionID, types.RoleUser, "message content")
		msg.SetTokenCount(100)
		messages = append(messages, msg)
	}
	if err := store.SaveMessages(context.Background(), messages); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
	return messages
}

func TestManager_CreateAndRestore(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	original := seedSession(t, store, sessionID, 5)

	cp, err := manager.Create(context.Background(), sessionID, "before-refactor")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if cp.Name != "before-refactor" {
		t.Errorf("Name = %q", cp.Name)
	}
	if cp.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want 5", cp.MessageCount)
	}
	if cp.TokenCount != 500 {
		t.Errorf("TokenCount = %d, want 500", cp.TokenCount)
	}

	restored, err := manager.Restore(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if len(restored) != 5 {
		t.Fatalf("restored %d messages, want 5", len(restored))
	}
	for i, msg := range restored {
		if msg.ID != original[i].ID {
			t.Errorf("restored[%d].ID mismatch", i)
		}
		if msg.Content != original[i].Content {
			t.Errorf("restored[%d].Content mismatch", i)
		}
	}
}

func TestManager_CreateStampsCapturedMessages(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	seedSession(t, store, sessionID, 3)

	cp, err := manager.Create(context.Background(), sessionID, "stamped")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stored, err := store.GetMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	for i, msg := range stored {
		if msg.CheckpointID == nil {
			t.Fatalf("message %d CheckpointID = <nil>, want %s", i, cp.ID)
		}
		if *msg.CheckpointID != cp.ID {
			t.Errorf("message %d CheckpointID = %s, want %s", i, *msg.CheckpointID, cp.ID)
		}
	}

	// A later checkpoint takes over the stamp.
	second, err := manager.Create(context.Background(), sessionID, "stamped-again")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stored, _ = store.GetMessages(context.Background(), sessionID)
	for i, msg := range stored {
		if msg.CheckpointID == nil || *msg.CheckpointID != second.ID {
			t.Errorf("message %d not restamped by later checkpoint", i)
		}
	}
}

func TestManager_SnapshotIncludesFlaggedMessages(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	messages := seedSession(t, store, sessionID, 4)

	condenseID := uuid.New()
	if err := store.MarkCondensed(context.Background(), []uuid.UUID{messages[0].ID, messages[1].ID}, condenseID); err != nil {
		t.Fatalf("MarkCondensed failed: %v", err)
	}

	cp, err := manager.Create(context.Background(), sessionID, "post-compaction")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Condensed messages are captured, but only active ones count tokens.
	if cp.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", cp.MessageCount)
	}
	if cp.TokenCount != 200 {
		t.Errorf("TokenCount = %d, want 200 (active only)", cp.TokenCount)
	}

	restored, err := manager.Restore(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored[0].State != types.StateCondensed {
		t.Error("restored snapshot lost compression state")
	}
}

func TestManager_RestoreIsReadOnly(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	seedSession(t, store, sessionID, 3)

	cp, _ := manager.Create(context.Background(), sessionID, "cp")

	// Messages appended after the checkpoint survive a restore.
	later := types.NewMessage(sessionID, types.RoleUser, "appended later")
	if err := store.SaveMessage(context.Background(), later); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	restored, err := manager.Restore(context.Background(), cp.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if len(restored) != 3 {
		t.Errorf("restored %d messages, want 3", len(restored))
	}

	stored, _ := store.GetMessages(context.Background(), sessionID)
	if len(stored) != 4 {
		t.Errorf("store has %d messages after restore, want 4", len(stored))
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	seedSession(t, store, sessionID, 2)

	first, _ := manager.Create(context.Background(), sessionID, "first")
	// Checkpoint ordering is by creation time.
	time.Sleep(5 * time.Millisecond)
	second, _ := manager.Create(context.Background(), sessionID, "second")

	list, err := manager.List(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d checkpoints, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("checkpoints not ordered newest first")
	}
}

func TestManager_Delete(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	seedSession(t, store, sessionID, 1)

	cp, _ := manager.Create(context.Background(), sessionID, "doomed")

	if err := manager.Delete(context.Background(), cp.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Restore(context.Background(), cp.ID); !errors.Is(err, storage.ErrCheckpointNotFound) {
		t.Errorf("Restore after delete = %v, want ErrCheckpointNotFound", err)
	}
}

func TestManager_DeleteBySession(t *testing.T) {
	store := testutil.NewMemStore()
	manager := NewManager(store)
	sessionID := uuid.New()
	otherSession := uuid.New()
	seedSession(t, store, sessionID, 1)
	seedSession(t, store, otherSession, 1)

	manager.Create(context.Background(), sessionID, "a")
	manager.Create(context.Background(), sessionID, "b")
	keep, _ := manager.Create(context.Background(), otherSession, "keep")

	deleted, err := manager.DeleteBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("DeleteBySession failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if _, err := manager.Restore(context.Background(), keep.ID); err != nil {
		t.Errorf("other session's checkpoint was deleted: %v", err)
	}
}
