package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youssefsiam38/memorypg/storage"
	"github.com/youssefsiam38/memorypg/types"
)

// MemStore is an in-memory implementation of storage.Store for unit
// tests. It preserves insertion order per session and copies records on
// the way in and out so tests observe persistence, not shared pointers.
type MemStore struct {
	mu          sync.Mutex
	order       map[uuid.UUID][]uuid.UUID
	messages    map[uuid.UUID]*types.Message
	checkpoints map[uuid.UUID]*types.Checkpoint
	memories    map[uuid.UUID]*types.CompactedSession

	leaderID      string
	leaderExpires time.Time
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		order:       make(map[uuid.UUID][]uuid.UUID),
		messages:    make(map[uuid.UUID]*types.Message),
		checkpoints: make(map[uuid.UUID]*types.Checkpoint),
		memories:    make(map[uuid.UUID]*types.CompactedSession),
	}
}

var _ storage.Store = (*MemStore)(nil)

func copyMessage(msg *types.Message) *types.Message {
	cp := *msg
	if msg.TokenCount != nil {
		v := *msg.TokenCount
		cp.TokenCount = &v
	}
	if msg.ReplacedBy != nil {
		v := *msg.ReplacedBy
		cp.ReplacedBy = &v
	}
	if msg.CondenseID != nil {
		v := *msg.CondenseID
		cp.CondenseID = &v
	}
	if msg.CheckpointID != nil {
		v := *msg.CheckpointID
		cp.CheckpointID = &v
	}
	return &cp
}

func copyMemory(cs *types.CompactedSession) *types.CompactedSession {
	cp := *cs
	cp.KeyTopics = append([]string(nil), cs.KeyTopics...)
	cp.Decisions = append([]string(nil), cs.Decisions...)
	cp.PromotionHistory = append([]types.PromotionEvent(nil), cs.PromotionHistory...)
	return &cp
}

// Transact runs fn directly; unit tests do not exercise rollback.
func (s *MemStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *MemStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; !exists {
		s.order[msg.SessionID] = append(s.order[msg.SessionID], msg.ID)
	}
	s.messages[msg.ID] = copyMessage(msg)
	return nil
}

func (s *MemStore) SaveMessages(ctx context.Context, messages []*types.Message) error {
	for _, msg := range messages {
		if err := s.SaveMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) GetMessage(ctx context.Context, id uuid.UUID) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

func (s *MemStore) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Message
	for _, id := range s.order[sessionID] {
		out = append(out, copyMessage(s.messages[id]))
	}
	return out, nil
}

func (s *MemStore) GetActiveMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Message
	for _, id := range s.order[sessionID] {
		if msg := s.messages[id]; msg.IsActive() {
			out = append(out, copyMessage(msg))
		}
	}
	return out, nil
}

func (s *MemStore) MarkCondensed(ctx context.Context, ids []uuid.UUID, condenseID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		msg, ok := s.messages[id]
		if !ok || msg.State != types.StateActive {
			continue
		}
		msg.State = types.StateCondensed
		ref := condenseID
		msg.ReplacedBy = &ref
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemStore) MarkTruncated(ctx context.Context, ids []uuid.UUID, truncationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		msg, ok := s.messages[id]
		if !ok || msg.State != types.StateActive {
			continue
		}
		msg.State = types.StateTruncated
		ref := truncationID
		msg.ReplacedBy = &ref
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemStore) MarkCheckpointed(ctx context.Context, ids []uuid.UUID, checkpointID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		msg, ok := s.messages[id]
		if !ok {
			continue
		}
		ref := checkpointID
		msg.CheckpointID = &ref
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemStore) PruneToolOutput(ctx context.Context, id uuid.UUID, marker string, tokenCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	msg.ToolOutput = marker
	msg.Pruned = true
	msg.TokenCount = &tokenCount
	msg.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) UpdateTokenCount(ctx context.Context, id uuid.UUID, tokenCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	msg.TokenCount = &tokenCount
	return nil
}

func (s *MemStore) SessionHasMessages(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order[sessionID]) > 0, nil
}

func (s *MemStore) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *cp
	clone.MessagesSnapshot = append([]byte(nil), cp.MessagesSnapshot...)
	s.checkpoints[cp.ID] = &clone
	return nil
}

func (s *MemStore) GetCheckpoint(ctx context.Context, id uuid.UUID) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, storage.ErrCheckpointNotFound
	}
	clone := *cp
	clone.MessagesSnapshot = append([]byte(nil), cp.MessagesSnapshot...)
	return &clone, nil
}

func (s *MemStore) ListCheckpoints(ctx context.Context, sessionID uuid.UUID) ([]*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.SessionID == sessionID {
			clone := *cp
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) DeleteCheckpoint(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.checkpoints[id]; !ok {
		return storage.ErrCheckpointNotFound
	}
	delete(s.checkpoints, id)
	return nil
}

func (s *MemStore) DeleteCheckpointsBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, cp := range s.checkpoints {
		if cp.SessionID == sessionID {
			delete(s.checkpoints, id)
			count++
		}
	}
	return count, nil
}

func (s *MemStore) SaveCompactedSession(ctx context.Context, cs *types.CompactedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memories[cs.ID] = copyMemory(cs)
	return nil
}

func (s *MemStore) GetCompactedSession(ctx context.Context, id uuid.UUID) (*types.CompactedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrMemoryNotFound
	}
	return copyMemory(cs), nil
}

func (s *MemStore) ListCompactedSessions(ctx context.Context, sessionID uuid.UUID) ([]*types.CompactedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.CompactedSession
	for _, cs := range s.memories {
		if cs.SessionID == sessionID {
			out = append(out, copyMemory(cs))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) DeleteCompactedSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[id]; !ok {
		return storage.ErrMemoryNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *MemStore) GetMemoriesForPromotion(ctx context.Context, limit int) ([]*types.CompactedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.CompactedSession
	for _, cs := range s.memories {
		if cs.Tier == types.TierMidTerm {
			out = append(out, copyMemory(cs))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) RecordAccess(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.memories[id]
	if !ok {
		return storage.ErrMemoryNotFound
	}
	cs.AccessCount++
	cs.LastAccessedAt = time.Now()
	return nil
}

func (s *MemStore) UpdateTier(ctx context.Context, id uuid.UUID, tier types.Tier, history []types.PromotionEvent, updatedAt, expected time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.memories[id]
	if !ok {
		return storage.ErrMemoryNotFound
	}
	if !cs.TierUpdatedAt.Equal(expected) {
		return storage.ErrTierConflict
	}
	cs.Tier = tier
	cs.PromotionHistory = append([]types.PromotionEvent(nil), history...)
	cs.TierUpdatedAt = updatedAt
	return nil
}

func (s *MemStore) GetExpiredMidTerm(ctx context.Context, horizon time.Time, minAccess int) ([]*types.CompactedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.CompactedSession
	for _, cs := range s.memories {
		if cs.Tier == types.TierMidTerm && cs.CreatedAt.Before(horizon) && cs.AccessCount < minAccess {
			out = append(out, copyMemory(cs))
		}
	}
	return out, nil
}

func (s *MemStore) GetLongTermMemories(ctx context.Context) ([]*types.CompactedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.CompactedSession
	for _, cs := range s.memories {
		if cs.Tier == types.TierLongTerm {
			out = append(out, copyMemory(cs))
		}
	}
	return out, nil
}

func (s *MemStore) LeaderAttemptElect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.leaderID != "" && s.leaderID != params.LeaderID && s.leaderExpires.After(now) {
		return false, nil
	}
	s.leaderID = params.LeaderID
	s.leaderExpires = now.Add(params.TTL)
	return true, nil
}

func (s *MemStore) LeaderAttemptReelect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaderID != params.LeaderID {
		return false, nil
	}
	s.leaderExpires = time.Now().Add(params.TTL)
	return true, nil
}

func (s *MemStore) LeaderResign(ctx context.Context, leaderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaderID == leaderID {
		s.leaderID = ""
		s.leaderExpires = time.Time{}
	}
	return nil
}
