// Package embedding defines the vector-store collaborator contract.
//
// The engine never implements semantic indexing itself; promotion requests
// an embedding for each long-term memory and cleanup reconciles orphaned
// entries, both through this interface.
package embedding

import (
	"context"

	"github.com/google/uuid"
)

// Store is the vector-store collaborator.
type Store interface {
	// Upsert persists an embedding of text keyed by the memory record ID.
	Upsert(ctx context.Context, memoryID uuid.UUID, text string) error

	// ListOrphaned returns IDs of vector entries that may no longer have a
	// corresponding memory record. Callers verify before deleting.
	ListOrphaned(ctx context.Context) ([]uuid.UUID, error)

	// Delete removes the embedding for the given memory ID.
	Delete(ctx context.Context, memoryID uuid.UUID) error
}

// Noop is a Store that does nothing. It is the default when no vector store
// is configured.
type Noop struct{}

// Upsert implements Store.
func (Noop) Upsert(ctx context.Context, memoryID uuid.UUID, text string) error { return nil }

// ListOrphaned implements Store.
func (Noop) ListOrphaned(ctx context.Context) ([]uuid.UUID, error) { return nil, nil }

// Delete implements Store.
func (Noop) Delete(ctx context.Context, memoryID uuid.UUID) error { return nil }
