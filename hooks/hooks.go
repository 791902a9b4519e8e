package hooks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/youssefsiam38/memorypg/compaction"
	"github.com/youssefsiam38/memorypg/types"
)

// BeforeCompressionHook is called before a compression run starts
type BeforeCompressionHook func(ctx context.Context, sessionID uuid.UUID) error

// AfterCompressionHook is called after a compression run completes
type AfterCompressionHook func(ctx context.Context, sessionID uuid.UUID, result *compaction.Result) error

// AfterCheckpointHook is called after a checkpoint is created
type AfterCheckpointHook func(ctx context.Context, checkpoint *types.Checkpoint) error

// AfterPromotionHook is called after a memory record reaches long-term tier
type AfterPromotionHook func(ctx context.Context, memory *types.CompactedSession) error

// Registry holds all registered hooks
type Registry struct {
	mu                sync.RWMutex
	beforeCompression []BeforeCompressionHook
	afterCompression  []AfterCompressionHook
	afterCheckpoint   []AfterCheckpointHook
	afterPromotion    []AfterPromotionHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		beforeCompression: []BeforeCompressionHook{},
		afterCompression:  []AfterCompressionHook{},
		afterCheckpoint:   []AfterCheckpointHook{},
		afterPromotion:    []AfterPromotionHook{},
	}
}

// OnBeforeCompression registers a hook to be called before compression
func (r *Registry) OnBeforeCompression(hook BeforeCompressionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompression = append(r.beforeCompression, hook)
}

// OnAfterCompression registers a hook to be called after compression
func (r *Registry) OnAfterCompression(hook AfterCompressionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompression = append(r.afterCompression, hook)
}

// OnAfterCheckpoint registers a hook to be called after checkpoint creation
func (r *Registry) OnAfterCheckpoint(hook AfterCheckpointHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCheckpoint = append(r.afterCheckpoint, hook)
}

// OnAfterPromotion registers a hook to be called after tier promotion
func (r *Registry) OnAfterPromotion(hook AfterPromotionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterPromotion = append(r.afterPromotion, hook)
}

// TriggerBeforeCompression calls all registered before-compression hooks
func (r *Registry) TriggerBeforeCompression(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.RLock()
	hooks := make([]BeforeCompressionHook, len(r.beforeCompression))
	copy(hooks, r.beforeCompression)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompression calls all registered after-compression hooks
func (r *Registry) TriggerAfterCompression(ctx context.Context, sessionID uuid.UUID, result *compaction.Result) error {
	r.mu.RLock()
	hooks := make([]AfterCompressionHook, len(r.afterCompression))
	copy(hooks, r.afterCompression)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCheckpoint calls all registered after-checkpoint hooks
func (r *Registry) TriggerAfterCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	r.mu.RLock()
	hooks := make([]AfterCheckpointHook, len(r.afterCheckpoint))
	copy(hooks, r.afterCheckpoint)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterPromotion calls all registered after-promotion hooks
func (r *Registry) TriggerAfterPromotion(ctx context.Context, memory *types.CompactedSession) error {
	r.mu.RLock()
	hooks := make([]AfterPromotionHook, len(r.afterPromotion))
	copy(hooks, r.afterPromotion)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, memory); err != nil {
			return err
		}
	}
	return nil
}
