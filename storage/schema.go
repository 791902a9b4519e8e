package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for all memorypg tables. Statements are idempotent so
// Migrate can run on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS memorypg_messages (
	id            UUID PRIMARY KEY,
	session_id    UUID NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	tool_name     TEXT NOT NULL DEFAULT '',
	tool_output   TEXT NOT NULL DEFAULT '',
	pruned        BOOLEAN NOT NULL DEFAULT FALSE,
	token_count   INTEGER,
	state         TEXT NOT NULL DEFAULT 'active',
	replaced_by   UUID,
	is_summary    BOOLEAN NOT NULL DEFAULT FALSE,
	condense_id   UUID,
	checkpoint_id UUID,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_memorypg_messages_session
	ON memorypg_messages (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_memorypg_messages_session_active
	ON memorypg_messages (session_id, created_at) WHERE state = 'active';

CREATE TABLE IF NOT EXISTS memorypg_checkpoints (
	id                UUID PRIMARY KEY,
	session_id        UUID NOT NULL,
	name              TEXT NOT NULL,
	summary           TEXT NOT NULL DEFAULT '',
	message_count     INTEGER NOT NULL,
	token_count       INTEGER NOT NULL,
	messages_snapshot JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_memorypg_checkpoints_session
	ON memorypg_checkpoints (session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memorypg_compacted_sessions (
	id                UUID PRIMARY KEY,
	session_id        UUID NOT NULL,
	summary           TEXT NOT NULL,
	key_topics        TEXT[] NOT NULL DEFAULT '{}',
	decisions         TEXT[] NOT NULL DEFAULT '{}',
	message_start     UUID NOT NULL,
	message_end       UUID NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_accessed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	access_count      INTEGER NOT NULL DEFAULT 0,
	tier              TEXT NOT NULL DEFAULT 'mid-term',
	tier_updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	promotion_history JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_memorypg_compacted_sessions_session
	ON memorypg_compacted_sessions (session_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_memorypg_compacted_sessions_promotion
	ON memorypg_compacted_sessions (access_count DESC, last_accessed_at ASC)
	WHERE tier = 'mid-term';

CREATE TABLE IF NOT EXISTS memorypg_leader (
	name       TEXT PRIMARY KEY,
	leader_id  TEXT NOT NULL,
	elected_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply memorypg schema: %w", err)
	}
	return nil
}
