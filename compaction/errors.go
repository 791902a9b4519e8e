package compaction

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for compaction operations.
var (
	// ErrInvalidConfig indicates invalid context-engine configuration.
	ErrInvalidConfig = errors.New("invalid context configuration")

	// ErrNoMessagesToCompact indicates there are no messages eligible for
	// compaction.
	ErrNoMessagesToCompact = errors.New("no messages to compact")

	// ErrSummarizationFailed indicates the summarization call failed.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrStorageError indicates a database operation failed.
	ErrStorageError = errors.New("storage operation failed")
)

// CompressionError provides structured error context for compression
// operations.
type CompressionError struct {
	// Op is the operation that failed (e.g., "Compact", "Prune")
	Op string

	// SessionID is the session ID if applicable
	SessionID uuid.UUID

	// Err is the underlying error
	Err error

	// Context holds additional key-value pairs for debugging
	Context map[string]any
}

// Error returns a formatted error message.
func (e *CompressionError) Error() string {
	msg := fmt.Sprintf("compression %s failed", e.Op)
	if e.SessionID != uuid.Nil {
		msg += fmt.Sprintf(" for session %s", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *CompressionError) Unwrap() error {
	return e.Err
}

// NewCompressionError creates a new CompressionError with the given operation
// and underlying error.
func NewCompressionError(op string, err error) *CompressionError {
	return &CompressionError{
		Op:      op,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithSession sets the session ID on the error and returns it for chaining.
func (e *CompressionError) WithSession(sessionID uuid.UUID) *CompressionError {
	e.SessionID = sessionID
	return e
}

// WithContext adds a key-value pair to the error context and returns the
// error for chaining.
func (e *CompressionError) WithContext(key string, value any) *CompressionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
