package storage

import "errors"

// Errors returned by storage implementations.
var (
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrCheckpointNotFound is returned when a checkpoint does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrMemoryNotFound is returned when a compacted-session record does
	// not exist.
	ErrMemoryNotFound = errors.New("memory record not found")

	// ErrTierConflict is returned when an optimistic tier update lost the
	// race against a concurrent writer.
	ErrTierConflict = errors.New("tier update conflict")
)
