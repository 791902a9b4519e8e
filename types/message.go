package types

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the message role
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleSystem represents a system message
	RoleSystem Role = "system"

	// RoleTool represents a tool output message
	RoleTool Role = "tool"
)

// MessageState is the compression state of a message. Compression never
// deletes messages; it only moves them out of the active set.
type MessageState string

const (
	// StateActive means the message counts toward token usage and is sent
	// with the prompt.
	StateActive MessageState = "active"

	// StateCondensed means the message was replaced by a summary message.
	// ReplacedBy points at the summary's condense ID.
	StateCondensed MessageState = "condensed"

	// StateTruncated means the message was cut by a hard truncation.
	// ReplacedBy points at the shared truncation ID.
	StateTruncated MessageState = "truncated"
)

// Message represents a transcript message with compression metadata.
//
// A message with IsSummary=true always has a non-nil CondenseID. A message
// with State=StateCondensed or State=StateTruncated always has a non-nil
// ReplacedBy.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`

	// ToolName and ToolOutput carry tool/function call results for
	// RoleTool messages. ToolOutput is the prunable payload.
	ToolName   string `json:"tool_name,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`

	// Pruned is set once ToolOutput has been replaced with a short marker.
	Pruned bool `json:"pruned"`

	// TokenCount is lazily computed; nil means not yet counted.
	TokenCount *int `json:"token_count,omitempty"`

	State MessageState `json:"state"`

	// ReplacedBy links a condensed message to its summary's condense ID,
	// or a truncated message to its truncation ID.
	ReplacedBy *uuid.UUID `json:"replaced_by,omitempty"`

	// IsSummary marks a synthetic summary message produced by compaction.
	IsSummary bool `json:"is_summary"`

	// CondenseID is set on summary messages and identifies the replaced
	// range. Condensed messages carry the same value in ReplacedBy.
	CondenseID *uuid.UUID `json:"condense_id,omitempty"`

	// CheckpointID is set when the message was captured by a checkpoint.
	CheckpointID *uuid.UUID `json:"checkpoint_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMessage creates a new active message.
func NewMessage(sessionID uuid.UUID, role Role, content string) *Message {
	now := time.Now()
	return &Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewToolMessage creates a new active tool output message.
func NewToolMessage(sessionID uuid.UUID, toolName, output string) *Message {
	msg := NewMessage(sessionID, RoleTool, "")
	msg.ToolName = toolName
	msg.ToolOutput = output
	return msg
}

// IsActive reports whether the message counts toward token usage.
func (m *Message) IsActive() bool {
	return m.State == StateActive
}

// HasTokenCount reports whether the token count has been computed.
func (m *Message) HasTokenCount() bool {
	return m.TokenCount != nil
}

// SetTokenCount records the computed token count.
func (m *Message) SetTokenCount(count int) {
	m.TokenCount = &count
}
