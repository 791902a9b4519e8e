package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/memorypg/types"
)

// Store defines the persistence interface for the memory engine.
//
// Implementations must guarantee that SaveMessages writes all messages in a
// single transaction, and that Transact runs the given function with every
// nested store call joined to one transaction.
type Store interface {
	// Transact runs fn inside a single transaction. Store calls made with
	// the context passed to fn join that transaction.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	// Message operations
	SaveMessage(ctx context.Context, msg *types.Message) error
	SaveMessages(ctx context.Context, messages []*types.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*types.Message, error)
	// GetMessages returns every message for the session in timestamp order,
	// including condensed and truncated ones.
	GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error)
	// GetActiveMessages returns only messages still counted toward token
	// usage, in timestamp order.
	GetActiveMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error)
	// MarkCondensed moves the given messages out of the active set,
	// linking them to the summary's condense ID.
	MarkCondensed(ctx context.Context, ids []uuid.UUID, condenseID uuid.UUID) error
	// MarkTruncated moves the given messages out of the active set,
	// linking them to a shared truncation ID.
	MarkTruncated(ctx context.Context, ids []uuid.UUID, truncationID uuid.UUID) error
	// PruneToolOutput replaces a message's tool output with a short marker
	// and records the new token count.
	PruneToolOutput(ctx context.Context, id uuid.UUID, marker string, tokenCount int) error
	UpdateTokenCount(ctx context.Context, id uuid.UUID, tokenCount int) error
	// SessionHasMessages reports whether any messages exist for the session.
	SessionHasMessages(ctx context.Context, sessionID uuid.UUID) (bool, error)

	// MarkCheckpointed stamps the given messages with the checkpoint that
	// captured them. A later checkpoint overwrites the stamp.
	MarkCheckpointed(ctx context.Context, ids []uuid.UUID, checkpointID uuid.UUID) error

	// Checkpoint operations
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, id uuid.UUID) (*types.Checkpoint, error)
	// ListCheckpoints returns checkpoints for the session, newest first.
	ListCheckpoints(ctx context.Context, sessionID uuid.UUID) ([]*types.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id uuid.UUID) error
	DeleteCheckpointsBySession(ctx context.Context, sessionID uuid.UUID) (int, error)

	// Compacted-session (mid-term memory) operations
	SaveCompactedSession(ctx context.Context, cs *types.CompactedSession) error
	GetCompactedSession(ctx context.Context, id uuid.UUID) (*types.CompactedSession, error)
	ListCompactedSessions(ctx context.Context, sessionID uuid.UUID) ([]*types.CompactedSession, error)
	DeleteCompactedSession(ctx context.Context, id uuid.UUID) error
	// GetMemoriesForPromotion returns mid-term records ordered by
	// access_count DESC, last_accessed_at ASC.
	GetMemoriesForPromotion(ctx context.Context, limit int) ([]*types.CompactedSession, error)
	// RecordAccess atomically increments access_count and touches
	// last_accessed_at.
	RecordAccess(ctx context.Context, id uuid.UUID) error
	// UpdateTier sets the tier and promotion history. The update only
	// applies if tier_updated_at still equals expected (optimistic
	// concurrency); otherwise ErrTierConflict is returned.
	UpdateTier(ctx context.Context, id uuid.UUID, tier types.Tier, history []types.PromotionEvent, updatedAt, expected time.Time) error
	// GetExpiredMidTerm returns mid-term records created before horizon
	// with access_count below minAccess.
	GetExpiredMidTerm(ctx context.Context, horizon time.Time, minAccess int) ([]*types.CompactedSession, error)
	GetLongTermMemories(ctx context.Context) ([]*types.CompactedSession, error)

	// Leader election operations, used to pick a single maintenance
	// runner across instances
	LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error)
	LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error)
	LeaderResign(ctx context.Context, leaderID string) error
}

// LeaderElectParams holds parameters for a leader election attempt.
type LeaderElectParams struct {
	// LeaderID uniquely identifies the instance attempting election.
	LeaderID string

	// TTL is how long the lease is valid without renewal.
	TTL time.Duration
}
