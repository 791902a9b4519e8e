package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/youssefsiam38/memorypg/types"
)

// txContextKey is the context key for storing pgx.Tx
type txContextKey struct{}

// WithTx returns a new context with the given transaction
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil if not present
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is a common interface for pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements Store using PostgreSQL with pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// getQuerier returns the transaction from context if present, otherwise the pool
func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Transact runs fn inside a single transaction. If the context already
// carries a transaction, fn joins it instead of opening a nested one.
func (s *PostgresStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =========================================================================
// Messages
// =========================================================================

const messageColumns = `id, session_id, role, content, tool_name, tool_output, pruned,
	token_count, state, replaced_by, is_summary, condense_id, checkpoint_id,
	created_at, updated_at`

// SaveMessage persists a single message
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	query := `
		INSERT INTO memorypg_messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.getQuerier(ctx).Exec(ctx, query,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		msg.ToolName, msg.ToolOutput, msg.Pruned,
		msg.TokenCount, string(msg.State), msg.ReplacedBy,
		msg.IsSummary, msg.CondenseID, msg.CheckpointID,
		msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// SaveMessages persists messages in a single transaction using a batch
func (s *PostgresStore) SaveMessages(ctx context.Context, messages []*types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	return s.Transact(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		query := `
			INSERT INTO memorypg_messages (` + messageColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`
		for _, msg := range messages {
			batch.Queue(query,
				msg.ID, msg.SessionID, string(msg.Role), msg.Content,
				msg.ToolName, msg.ToolOutput, msg.Pruned,
				msg.TokenCount, string(msg.State), msg.ReplacedBy,
				msg.IsSummary, msg.CondenseID, msg.CheckpointID,
				msg.CreatedAt, msg.UpdatedAt,
			)
		}

		results := s.getQuerier(ctx).SendBatch(ctx, batch)
		defer results.Close()

		for range messages {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to save message batch: %w", err)
			}
		}
		return nil
	})
}

// GetMessage retrieves a message by ID
func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*types.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM memorypg_messages WHERE id = $1`

	msg, err := scanMessage(s.getQuerier(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessages retrieves all messages for a session in timestamp order
func (s *PostgresStore) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM memorypg_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return s.queryMessages(ctx, query, sessionID)
}

// GetActiveMessages retrieves only active messages for a session
func (s *PostgresStore) GetActiveMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM memorypg_messages
		WHERE session_id = $1 AND state = 'active'
		ORDER BY created_at ASC, id ASC
	`
	return s.queryMessages(ctx, query, sessionID)
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]*types.Message, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (*types.Message, error) {
	var msg types.Message
	var role, state string

	err := row.Scan(
		&msg.ID, &msg.SessionID, &role, &msg.Content,
		&msg.ToolName, &msg.ToolOutput, &msg.Pruned,
		&msg.TokenCount, &state, &msg.ReplacedBy,
		&msg.IsSummary, &msg.CondenseID, &msg.CheckpointID,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Role = types.Role(role)
	msg.State = types.MessageState(state)
	return &msg, nil
}

// MarkCondensed flags the given messages as condensed, linked to condenseID
func (s *PostgresStore) MarkCondensed(ctx context.Context, ids []uuid.UUID, condenseID uuid.UUID) error {
	return s.markReplaced(ctx, ids, types.StateCondensed, condenseID)
}

// MarkTruncated flags the given messages as truncated, linked to truncationID
func (s *PostgresStore) MarkTruncated(ctx context.Context, ids []uuid.UUID, truncationID uuid.UUID) error {
	return s.markReplaced(ctx, ids, types.StateTruncated, truncationID)
}

func (s *PostgresStore) markReplaced(ctx context.Context, ids []uuid.UUID, state types.MessageState, replacedBy uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE memorypg_messages
		SET state = $1, replaced_by = $2, updated_at = NOW()
		WHERE id = ANY($3) AND state = 'active'
	`

	_, err := s.getQuerier(ctx).Exec(ctx, query, string(state), replacedBy, ids)
	if err != nil {
		return fmt.Errorf("failed to mark messages %s: %w", state, err)
	}
	return nil
}

// MarkCheckpointed stamps the given messages with the capturing checkpoint
func (s *PostgresStore) MarkCheckpointed(ctx context.Context, ids []uuid.UUID, checkpointID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE memorypg_messages
		SET checkpoint_id = $1, updated_at = NOW()
		WHERE id = ANY($2)
	`

	_, err := s.getQuerier(ctx).Exec(ctx, query, checkpointID, ids)
	if err != nil {
		return fmt.Errorf("failed to mark messages checkpointed: %w", err)
	}
	return nil
}

// PruneToolOutput replaces a message's tool output with a marker
func (s *PostgresStore) PruneToolOutput(ctx context.Context, id uuid.UUID, marker string, tokenCount int) error {
	query := `
		UPDATE memorypg_messages
		SET tool_output = $1, pruned = TRUE, token_count = $2, updated_at = NOW()
		WHERE id = $3
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, marker, tokenCount, id)
	if err != nil {
		return fmt.Errorf("failed to prune tool output: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return nil
}

// UpdateTokenCount records a computed token count
func (s *PostgresStore) UpdateTokenCount(ctx context.Context, id uuid.UUID, tokenCount int) error {
	query := `UPDATE memorypg_messages SET token_count = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, tokenCount, id)
	if err != nil {
		return fmt.Errorf("failed to update token count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return nil
}

// SessionHasMessages reports whether any messages exist for the session
func (s *PostgresStore) SessionHasMessages(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM memorypg_messages WHERE session_id = $1)`

	var exists bool
	if err := s.getQuerier(ctx).QueryRow(ctx, query, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session messages: %w", err)
	}
	return exists, nil
}

// =========================================================================
// Checkpoints
// =========================================================================

// SaveCheckpoint persists a checkpoint. Checkpoints are immutable once written.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	query := `
		INSERT INTO memorypg_checkpoints
			(id, session_id, name, summary, message_count, token_count, messages_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.getQuerier(ctx).Exec(ctx, query,
		cp.ID, cp.SessionID, cp.Name, cp.Summary,
		cp.MessageCount, cp.TokenCount, cp.MessagesSnapshot, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves a checkpoint by ID
func (s *PostgresStore) GetCheckpoint(ctx context.Context, id uuid.UUID) (*types.Checkpoint, error) {
	query := `
		SELECT id, session_id, name, summary, message_count, token_count, messages_snapshot, created_at
		FROM memorypg_checkpoints
		WHERE id = $1
	`

	var cp types.Checkpoint
	err := s.getQuerier(ctx).QueryRow(ctx, query, id).Scan(
		&cp.ID, &cp.SessionID, &cp.Name, &cp.Summary,
		&cp.MessageCount, &cp.TokenCount, &cp.MessagesSnapshot, &cp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// ListCheckpoints retrieves checkpoints for a session, newest first
func (s *PostgresStore) ListCheckpoints(ctx context.Context, sessionID uuid.UUID) ([]*types.Checkpoint, error) {
	query := `
		SELECT id, session_id, name, summary, message_count, token_count, messages_snapshot, created_at
		FROM memorypg_checkpoints
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.getQuerier(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*types.Checkpoint
	for rows.Next() {
		var cp types.Checkpoint
		err := rows.Scan(
			&cp.ID, &cp.SessionID, &cp.Name, &cp.Summary,
			&cp.MessageCount, &cp.TokenCount, &cp.MessagesSnapshot, &cp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

// DeleteCheckpoint removes a checkpoint by ID
func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.getQuerier(ctx).Exec(ctx, `DELETE FROM memorypg_checkpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	return nil
}

// DeleteCheckpointsBySession removes all checkpoints for a session
func (s *PostgresStore) DeleteCheckpointsBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	tag, err := s.getQuerier(ctx).Exec(ctx, `DELETE FROM memorypg_checkpoints WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// =========================================================================
// Compacted sessions (mid-term memory)
// =========================================================================

const memoryColumns = `id, session_id, summary, key_topics, decisions,
	message_start, message_end, created_at, last_accessed_at, access_count,
	tier, tier_updated_at, promotion_history`

// SaveCompactedSession persists a compacted-session record
func (s *PostgresStore) SaveCompactedSession(ctx context.Context, cs *types.CompactedSession) error {
	historyJSON, err := json.Marshal(cs.PromotionHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal promotion history: %w", err)
	}

	query := `
		INSERT INTO memorypg_compacted_sessions (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.getQuerier(ctx).Exec(ctx, query,
		cs.ID, cs.SessionID, cs.Summary, cs.KeyTopics, cs.Decisions,
		cs.MessageStart, cs.MessageEnd, cs.CreatedAt, cs.LastAccessedAt,
		cs.AccessCount, string(cs.Tier), cs.TierUpdatedAt, historyJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save compacted session: %w", err)
	}
	return nil
}

// GetCompactedSession retrieves a compacted-session record by ID
func (s *PostgresStore) GetCompactedSession(ctx context.Context, id uuid.UUID) (*types.CompactedSession, error) {
	query := `SELECT ` + memoryColumns + ` FROM memorypg_compacted_sessions WHERE id = $1`

	cs, err := scanCompactedSession(s.getQuerier(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compacted session: %w", err)
	}
	return cs, nil
}

// ListCompactedSessions retrieves all records for a session, newest first
func (s *PostgresStore) ListCompactedSessions(ctx context.Context, sessionID uuid.UUID) ([]*types.CompactedSession, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memorypg_compacted_sessions
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return s.queryCompactedSessions(ctx, query, sessionID)
}

// DeleteCompactedSession removes a record by ID
func (s *PostgresStore) DeleteCompactedSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.getQuerier(ctx).Exec(ctx, `DELETE FROM memorypg_compacted_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete compacted session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	return nil
}

// GetMemoriesForPromotion returns mid-term promotion candidates, prioritizing
// frequently-used-but-stale records
func (s *PostgresStore) GetMemoriesForPromotion(ctx context.Context, limit int) ([]*types.CompactedSession, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memorypg_compacted_sessions
		WHERE tier = 'mid-term'
		ORDER BY access_count DESC, last_accessed_at ASC
		LIMIT $1
	`
	return s.queryCompactedSessions(ctx, query, limit)
}

// RecordAccess atomically bumps access stats for a record
func (s *PostgresStore) RecordAccess(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE memorypg_compacted_sessions
		SET access_count = access_count + 1, last_accessed_at = NOW()
		WHERE id = $1
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	return nil
}

// UpdateTier performs an optimistic compare-and-swap tier update
func (s *PostgresStore) UpdateTier(ctx context.Context, id uuid.UUID, tier types.Tier, history []types.PromotionEvent, updatedAt, expected time.Time) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal promotion history: %w", err)
	}

	query := `
		UPDATE memorypg_compacted_sessions
		SET tier = $1, tier_updated_at = $2, promotion_history = $3
		WHERE id = $4 AND tier_updated_at = $5
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, string(tier), updatedAt, historyJSON, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the record is gone or a concurrent writer touched it.
		if _, getErr := s.GetCompactedSession(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrTierConflict, id)
	}
	return nil
}

// GetExpiredMidTerm returns mid-term records past the retention horizon with
// access counts below the floor. Long-term records are never returned.
func (s *PostgresStore) GetExpiredMidTerm(ctx context.Context, horizon time.Time, minAccess int) ([]*types.CompactedSession, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memorypg_compacted_sessions
		WHERE tier = 'mid-term' AND created_at < $1 AND access_count < $2
		ORDER BY created_at ASC
	`
	return s.queryCompactedSessions(ctx, query, horizon, minAccess)
}

// GetLongTermMemories returns all long-term records
func (s *PostgresStore) GetLongTermMemories(ctx context.Context) ([]*types.CompactedSession, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memorypg_compacted_sessions
		WHERE tier = 'long-term'
		ORDER BY created_at ASC
	`
	return s.queryCompactedSessions(ctx, query)
}

func (s *PostgresStore) queryCompactedSessions(ctx context.Context, query string, args ...any) ([]*types.CompactedSession, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query compacted sessions: %w", err)
	}
	defer rows.Close()

	var records []*types.CompactedSession
	for rows.Next() {
		cs, err := scanCompactedSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compacted session: %w", err)
		}
		records = append(records, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compacted sessions: %w", err)
	}
	return records, nil
}

// LeaderAttemptElect attempts to take the maintenance leader lease. The
// lease is granted when no row exists, the current lease has expired, or
// this instance already holds it.
func (s *PostgresStore) LeaderAttemptElect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(params.TTL)

	query := `
		INSERT INTO memorypg_leader (name, leader_id, elected_at, expires_at)
		VALUES ('default', $1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET leader_id = EXCLUDED.leader_id,
		    elected_at = EXCLUDED.elected_at,
		    expires_at = EXCLUDED.expires_at
		WHERE memorypg_leader.expires_at < EXCLUDED.elected_at
		   OR memorypg_leader.leader_id = EXCLUDED.leader_id
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, params.LeaderID, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to attempt election: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LeaderAttemptReelect renews the lease. It fails when another instance
// has taken over.
func (s *PostgresStore) LeaderAttemptReelect(ctx context.Context, params *LeaderElectParams) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(params.TTL)

	query := `
		UPDATE memorypg_leader
		SET elected_at = $2, expires_at = $3
		WHERE name = 'default' AND leader_id = $1
	`

	tag, err := s.getQuerier(ctx).Exec(ctx, query, params.LeaderID, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to attempt reelection: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LeaderResign releases the lease if this instance holds it
func (s *PostgresStore) LeaderResign(ctx context.Context, leaderID string) error {
	query := `DELETE FROM memorypg_leader WHERE name = 'default' AND leader_id = $1`

	if _, err := s.getQuerier(ctx).Exec(ctx, query, leaderID); err != nil {
		return fmt.Errorf("failed to resign leadership: %w", err)
	}
	return nil
}

func scanCompactedSession(row pgx.Row) (*types.CompactedSession, error) {
	var cs types.CompactedSession
	var tier string
	var historyJSON []byte

	err := row.Scan(
		&cs.ID, &cs.SessionID, &cs.Summary, &cs.KeyTopics, &cs.Decisions,
		&cs.MessageStart, &cs.MessageEnd, &cs.CreatedAt, &cs.LastAccessedAt,
		&cs.AccessCount, &tier, &cs.TierUpdatedAt, &historyJSON,
	)
	if err != nil {
		return nil, err
	}

	cs.Tier = types.Tier(tier)
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &cs.PromotionHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal promotion history: %w", err)
		}
	}
	return &cs, nil
}
