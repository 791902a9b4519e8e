// Package memory is the access layer for mid-term memory records
// (compacted sessions).
//
// Tier transitions are one-directional: mid-term to long-term, never
// backward. Every transition appends to the record's promotion history and
// is applied with an optimistic compare-and-swap on tier_updated_at, so
// promotion can run concurrently with in-flight compactions on the same
// session.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/memorypg/storage"
	"github.com/youssefsiam38/memorypg/types"
)

// ErrAlreadyLongTerm is returned when promoting a record that has already
// been promoted.
var ErrAlreadyLongTerm = errors.New("memory is already long-term")

// Service wraps the store with mid-term memory domain operations.
type Service struct {
	store storage.Store
}

// NewService creates a memory service.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Get retrieves a memory record by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.CompactedSession, error) {
	return s.store.GetCompactedSession(ctx, id)
}

// ListBySession returns all memory records for a session, newest first.
func (s *Service) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*types.CompactedSession, error) {
	return s.store.ListCompactedSessions(ctx, sessionID)
}

// Delete removes a memory record.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteCompactedSession(ctx, id)
}

// RecordAccess atomically bumps the record's access count and touches its
// last-accessed time. Call this whenever the record is injected into a
// prompt by the retrieval collaborator.
func (s *Service) RecordAccess(ctx context.Context, id uuid.UUID) error {
	return s.store.RecordAccess(ctx, id)
}

// GetMemoriesForPromotion returns mid-term promotion candidates ordered by
// access_count DESC, last_accessed_at ASC, prioritizing frequently-used-but-
// stale records.
func (s *Service) GetMemoriesForPromotion(ctx context.Context, limit int) ([]*types.CompactedSession, error) {
	return s.store.GetMemoriesForPromotion(ctx, limit)
}

// PromoteToLongTerm transitions the record to the long-term tier, appending
// a promotion event to its history. The update is a compare-and-swap on
// tier_updated_at; storage.ErrTierConflict means a concurrent writer won.
func (s *Service) PromoteToLongTerm(ctx context.Context, rec *types.CompactedSession) error {
	if rec.Tier == types.TierLongTerm {
		return fmt.Errorf("%w: %s", ErrAlreadyLongTerm, rec.ID)
	}

	now := time.Now()
	history := append(append([]types.PromotionEvent{}, rec.PromotionHistory...), types.PromotionEvent{
		From: types.TierMidTerm,
		To:   types.TierLongTerm,
		At:   now,
	})

	if err := s.store.UpdateTier(ctx, rec.ID, types.TierLongTerm, history, now, rec.TierUpdatedAt); err != nil {
		return err
	}

	rec.Tier = types.TierLongTerm
	rec.TierUpdatedAt = now
	rec.PromotionHistory = history
	return nil
}
