package memorypg

import (
	"github.com/youssefsiam38/memorypg/compaction"
	"github.com/youssefsiam38/memorypg/embedding"
	"github.com/youssefsiam38/memorypg/hooks"
	"github.com/youssefsiam38/memorypg/storage"
)

// Option is a functional option for configuring an Engine
type Option func(*internalConfig) error

// internalConfig holds the full engine configuration including optional
// collaborators resolved at construction.
type internalConfig struct {
	store      storage.Store
	summarizer compaction.Summarizer
	embedder   embedding.Store
	hooks      *hooks.Registry
	logger     compaction.Logger
}

// WithStore overrides the Postgres-backed store. Intended for tests and
// alternative backends.
func WithStore(store storage.Store) Option {
	return func(c *internalConfig) error {
		c.store = store
		return nil
	}
}

// WithSummarizer overrides the summarizer used for the compact action.
// Without a summarizer, compact always degrades to prune.
func WithSummarizer(s compaction.Summarizer) Option {
	return func(c *internalConfig) error {
		c.summarizer = s
		return nil
	}
}

// WithEmbedder sets the vector store used for long-term memories
func WithEmbedder(e embedding.Store) Option {
	return func(c *internalConfig) error {
		c.embedder = e
		return nil
	}
}

// WithHooks sets a pre-populated hook registry
func WithHooks(r *hooks.Registry) Option {
	return func(c *internalConfig) error {
		c.hooks = r
		return nil
	}
}

// WithLogger sets the structured logger used by the engine and the
// compression pass
func WithLogger(l compaction.Logger) Option {
	return func(c *internalConfig) error {
		c.logger = l
		return nil
	}
}
