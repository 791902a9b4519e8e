package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is an immutable, named snapshot of a transcript at a point in
// time. The message list is stored serialized so restore does not depend on
// the live message table.
type Checkpoint struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`

	// Summary is a human-readable description of what the checkpoint holds.
	Summary string `json:"summary"`

	MessageCount int `json:"message_count"`
	TokenCount   int `json:"token_count"`

	// MessagesSnapshot is the serialized message list at capture time,
	// including flagged-but-retained messages.
	MessagesSnapshot json.RawMessage `json:"messages_snapshot"`

	CreatedAt time.Time `json:"created_at"`
}

// Snapshot decodes the captured message list.
func (c *Checkpoint) Snapshot() ([]*Message, error) {
	var messages []*Message
	if err := json.Unmarshal(c.MessagesSnapshot, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
