package memorypg

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the engine configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyMessage is returned when appending a message with no content
	ErrEmptyMessage = errors.New("message has no content")

	// ErrStorageError is returned when a storage operation failed
	ErrStorageError = errors.New("storage operation failed")
)

// EngineError provides structured error information for engine operations
type EngineError struct {
	Op        string
	SessionID uuid.UUID
	Err       error
	Context   map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.SessionID != uuid.Nil {
		return fmt.Sprintf("memorypg %s failed for session %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("memorypg %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Err
}

// WithSession attaches a session ID to the error
func (e *EngineError) WithSession(sessionID uuid.UUID) *EngineError {
	e.SessionID = sessionID
	return e
}

// WithContext attaches additional context to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewEngineError creates a new EngineError
func NewEngineError(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}
