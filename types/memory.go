package types

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the durability class of a compacted-session memory record.
type Tier string

const (
	// TierMidTerm memories are subject to expiry by the cleanup service.
	TierMidTerm Tier = "mid-term"

	// TierLongTerm memories are durable and semantically indexed.
	TierLongTerm Tier = "long-term"
)

// PromotionEvent records a single tier transition.
type PromotionEvent struct {
	From Tier      `json:"from"`
	To   Tier      `json:"to"`
	At   time.Time `json:"at"`
}

// CompactedSession is one mid-term memory record, created per compaction
// event. Tier transitions only mid-term to long-term, never backward, and
// every transition appends to PromotionHistory.
type CompactedSession struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`

	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
	Decisions []string `json:"decisions"`

	// MessageStart and MessageEnd bound the replaced message range.
	MessageStart uuid.UUID `json:"message_start"`
	MessageEnd   uuid.UUID `json:"message_end"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`

	Tier             Tier             `json:"tier"`
	TierUpdatedAt    time.Time        `json:"tier_updated_at"`
	PromotionHistory []PromotionEvent `json:"promotion_history"`
}

// IsLongTerm reports whether the record has been promoted.
func (c *CompactedSession) IsLongTerm() bool {
	return c.Tier == TierLongTerm
}
