// Package checkpoint provides point-in-time transcript snapshots.
//
// Checkpoints are immutable once written. Restore never mutates stored
// messages; it hands the decoded snapshot back to the caller, which is
// responsible for reconciling its working transcript.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/memorypg/compaction"
	"github.com/youssefsiam38/memorypg/storage"
	"github.com/youssefsiam38/memorypg/types"
)

// Manager creates, lists, restores and deletes transcript checkpoints.
type Manager struct {
	store storage.Store
}

// NewManager creates a checkpoint manager.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// Create snapshots the full current message list for the session, including
// flagged-but-retained messages, and persists it under the given name. The
// captured messages are stamped with the checkpoint's ID; a later checkpoint
// overwrites the stamp.
func (m *Manager) Create(ctx context.Context, sessionID uuid.UUID, name string) (*types.Checkpoint, error) {
	messages, err := m.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for checkpoint: %w", err)
	}

	checkpointID := uuid.New()

	tokens := 0
	activeCount := 0
	ids := make([]uuid.UUID, 0, len(messages))
	for _, msg := range messages {
		ref := checkpointID
		msg.CheckpointID = &ref
		ids = append(ids, msg.ID)
		if msg.IsActive() {
			tokens += compaction.MessageTokens(msg)
			activeCount++
		}
	}

	snapshot, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint snapshot: %w", err)
	}

	cp := &types.Checkpoint{
		ID:           checkpointID,
		SessionID:    sessionID,
		Name:         name,
		Summary:      fmt.Sprintf("%d messages (%d active), %d tokens", len(messages), activeCount, tokens),
		MessageCount: len(messages),
		TokenCount:   tokens,

		MessagesSnapshot: snapshot,
		CreatedAt:        time.Now(),
	}

	err = m.store.Transact(ctx, func(ctx context.Context) error {
		if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if err := m.store.MarkCheckpointed(ctx, ids, checkpointID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// List returns the session's checkpoints, newest first.
func (m *Manager) List(ctx context.Context, sessionID uuid.UUID) ([]*types.Checkpoint, error) {
	return m.store.ListCheckpoints(ctx, sessionID)
}

// Restore returns the message list captured by the checkpoint. Stored
// messages are not touched; messages appended after the checkpoint remain
// in storage unless the caller explicitly discards them.
func (m *Manager) Restore(ctx context.Context, checkpointID uuid.UUID) ([]*types.Message, error) {
	cp, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	messages, err := cp.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint snapshot: %w", err)
	}
	return messages, nil
}

// Delete removes a checkpoint.
func (m *Manager) Delete(ctx context.Context, checkpointID uuid.UUID) error {
	return m.store.DeleteCheckpoint(ctx, checkpointID)
}

// DeleteBySession removes all checkpoints for a session and returns how
// many were deleted.
func (m *Manager) DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return m.store.DeleteCheckpointsBySession(ctx, sessionID)
}
