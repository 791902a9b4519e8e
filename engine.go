package memorypg

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/youssefsiam38/memorypg/checkpoint"
	"github.com/youssefsiam38/memorypg/compaction"
	"github.com/youssefsiam38/memorypg/embedding"
	"github.com/youssefsiam38/memorypg/hooks"
	"github.com/youssefsiam38/memorypg/maintenance"
	"github.com/youssefsiam38/memorypg/memory"
	"github.com/youssefsiam38/memorypg/storage"
	"github.com/youssefsiam38/memorypg/types"
)

// Config holds the required configuration for an Engine.
//
// Example:
//
//	pool, _ := pgxpool.New(ctx, connString)
//	client := anthropic.NewClient()
//	engine, _ := memorypg.New(memorypg.Config{
//	    DB:     pool,
//	    Client: &client,
//	})
type Config struct {
	// DB is the Postgres connection pool (required)
	DB *pgxpool.Pool

	// Client is the Anthropic API client used for summarization and exact
	// token counting. Optional: without it the engine estimates tokens and
	// the compact action degrades to prune.
	Client *anthropic.Client

	// Context configures budgets and thresholds. Nil means defaults.
	Context *compaction.Config
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Context != nil {
		c.Context.ApplyDefaults()
		if err := c.Context.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Engine is the top-level entry point: it persists conversation messages
// and keeps every session inside its token budget by running a compression
// pass after each append.
type Engine struct {
	pool        *pgxpool.Pool
	store       storage.Store
	compressor  *compaction.Engine
	checkpoints *checkpoint.Manager
	memories    *memory.Service
	hooks       *hooks.Registry
	config      *compaction.Config
	counter     *compaction.TokenCounter
	embedder    embedding.Store

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

// sessionState serializes compression per session and tracks appends for
// automatic checkpointing.
type sessionState struct {
	mu      sync.Mutex
	appends int
}

// New creates a new Engine with the given configuration and options
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctxCfg := cfg.Context
	if ctxCfg == nil {
		ctxCfg = compaction.DefaultConfig()
	}

	internal := &internalConfig{}
	for _, opt := range opts {
		if err := opt(internal); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	store := internal.store
	if store == nil {
		if cfg.DB == nil {
			return nil, fmt.Errorf("%w: DB pool is required", ErrInvalidConfig)
		}
		store = storage.NewPostgresStore(cfg.DB)
	}

	summarizer := internal.summarizer
	if summarizer == nil && cfg.Client != nil {
		summarizer = compaction.NewAnthropicSummarizer(
			cfg.Client, ctxCfg.SummarizerModel, ctxCfg.SummarizerMaxTokens)
	}
	if summarizer == nil {
		summarizer = unavailableSummarizer{}
	}

	registry := internal.hooks
	if registry == nil {
		registry = hooks.NewRegistry()
	}

	compressor, err := compaction.NewEngine(store, summarizer, ctxCfg, internal.logger)
	if err != nil {
		return nil, err
	}

	var counter *compaction.TokenCounter
	if cfg.Client != nil {
		counter = compaction.NewTokenCounter(cfg.Client, ctxCfg.SummarizerModel)
		compressor.SetTokenCounter(counter)
	}

	embedder := internal.embedder
	if embedder == nil {
		embedder = embedding.Noop{}
	}

	return &Engine{
		pool:        cfg.DB,
		store:       store,
		compressor:  compressor,
		checkpoints: checkpoint.NewManager(store),
		memories:    memory.NewService(store),
		hooks:       registry,
		config:      compressor.Config(),
		counter:     counter,
		embedder:    embedder,
		sessions:    make(map[uuid.UUID]*sessionState),
	}, nil
}

// unavailableSummarizer always fails, which makes the compression pass
// degrade compact to prune.
type unavailableSummarizer struct{}

func (unavailableSummarizer) Summarize(ctx context.Context, messages []*types.Message) (*compaction.SummaryResult, error) {
	return nil, fmt.Errorf("%w: no summarizer configured", compaction.ErrSummarizationFailed)
}

// Migrate creates the engine's tables and indexes if they do not exist
func (e *Engine) Migrate(ctx context.Context) error {
	if e.pool == nil {
		return fmt.Errorf("%w: no DB pool to migrate", ErrInvalidConfig)
	}
	return storage.Migrate(ctx, e.pool)
}

// Store returns the underlying storage layer
func (e *Engine) Store() storage.Store {
	return e.store
}

// Memories returns the mid-term memory service
func (e *Engine) Memories() *memory.Service {
	return e.memories
}

// Checkpoints returns the checkpoint manager
func (e *Engine) Checkpoints() *checkpoint.Manager {
	return e.checkpoints
}

// Hooks returns the hook registry
func (e *Engine) Hooks() *hooks.Registry {
	return e.hooks
}

// Embedder returns the vector store configured via WithEmbedder, or a no-op
// store when none was set.
func (e *Engine) Embedder() embedding.Store {
	return e.embedder
}

// NewPromotion builds a promotion service wired to the engine's memory
// service, embedder and hook registry. Config hooks, when unset, default to
// the engine's registry.
func (e *Engine) NewPromotion(config *maintenance.PromotionConfig) *maintenance.Promotion {
	if config == nil {
		config = maintenance.DefaultPromotionConfig()
	}
	if config.Hooks == nil {
		config.Hooks = e.hooks
	}
	return maintenance.NewPromotion(e.memories, e.embedder, config)
}

// NewCleanup builds a cleanup service wired to the engine's store and
// embedder.
func (e *Engine) NewCleanup(config *maintenance.CleanupConfig) *maintenance.Cleanup {
	return maintenance.NewCleanup(e.store, e.embedder, config)
}

// session returns the state for a session, creating it on first use.
func (e *Engine) session(sessionID uuid.UUID) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		s = &sessionState{}
		e.sessions[sessionID] = s
	}
	return s
}

// Append persists a new message and runs the post-append cycle: automatic
// checkpointing on the configured interval, then one compression pass.
// Appends to the same session are serialized; different sessions proceed
// independently.
func (e *Engine) Append(ctx context.Context, sessionID uuid.UUID, role types.Role, content string) (*compaction.Result, error) {
	if content == "" {
		return nil, NewEngineError("Append", ErrEmptyMessage).WithSession(sessionID)
	}
	return e.AppendMessage(ctx, types.NewMessage(sessionID, role, content))
}

// AppendTool persists a tool invocation record and runs the post-append
// cycle. Oversized outputs are the first candidates for pruning.
func (e *Engine) AppendTool(ctx context.Context, sessionID uuid.UUID, toolName, output string) (*compaction.Result, error) {
	return e.AppendMessage(ctx, types.NewToolMessage(sessionID, toolName, output))
}

// AppendMessage persists a caller-constructed message and runs the
// post-append cycle.
func (e *Engine) AppendMessage(ctx context.Context, msg *types.Message) (*compaction.Result, error) {
	state := e.session(msg.SessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if !msg.HasTokenCount() {
		if e.counter != nil {
			msg.SetTokenCount(e.counter.CountMessage(ctx, msg))
		} else {
			msg.SetTokenCount(compaction.EstimateMessageTokens(msg))
		}
	}
	if err := e.store.SaveMessage(ctx, msg); err != nil {
		return nil, NewEngineError("Append", fmt.Errorf("%w: %v", ErrStorageError, err)).
			WithSession(msg.SessionID)
	}

	state.appends++
	if e.config.CheckpointInterval > 0 && state.appends%e.config.CheckpointInterval == 0 {
		// Checkpoint failure never blocks the conversation
		_ = e.autoCheckpoint(ctx, msg.SessionID, state.appends)
	}

	return e.compress(ctx, msg.SessionID)
}

// autoCheckpoint creates an interval checkpoint and fires the hook.
func (e *Engine) autoCheckpoint(ctx context.Context, sessionID uuid.UUID, appends int) error {
	cp, err := e.checkpoints.Create(ctx, sessionID, fmt.Sprintf("auto-%d", appends))
	if err != nil {
		return err
	}
	return e.hooks.TriggerAfterCheckpoint(ctx, cp)
}

// compress runs one compression pass with hooks. Callers hold the session
// lock.
func (e *Engine) compress(ctx context.Context, sessionID uuid.UUID) (*compaction.Result, error) {
	if err := e.hooks.TriggerBeforeCompression(ctx, sessionID); err != nil {
		return nil, err
	}

	result, err := e.compressor.Run(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := e.hooks.TriggerAfterCompression(ctx, sessionID, result); err != nil {
		return result, err
	}
	return result, nil
}

// Compress runs one compression pass for the session outside the append
// cycle, for callers that batch-import history.
func (e *Engine) Compress(ctx context.Context, sessionID uuid.UUID) (*compaction.Result, error) {
	state := e.session(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	return e.compress(ctx, sessionID)
}

// Evaluate reports where the session stands against its token budget
// without mutating anything.
func (e *Engine) Evaluate(ctx context.Context, sessionID uuid.UUID) (compaction.Decision, error) {
	return e.compressor.Evaluate(ctx, sessionID)
}

// ActiveMessages returns the session's active transcript: what a caller
// would send as model context.
func (e *Engine) ActiveMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	return e.store.GetActiveMessages(ctx, sessionID)
}

// History returns every stored message for the session, including
// condensed and truncated ones.
func (e *Engine) History(ctx context.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	return e.store.GetMessages(ctx, sessionID)
}

// CreateCheckpoint snapshots the session under the given name and fires
// the after-checkpoint hook.
func (e *Engine) CreateCheckpoint(ctx context.Context, sessionID uuid.UUID, name string) (*types.Checkpoint, error) {
	state := e.session(sessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	cp, err := e.checkpoints.Create(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	if err := e.hooks.TriggerAfterCheckpoint(ctx, cp); err != nil {
		return cp, err
	}
	return cp, nil
}

// RestoreCheckpoint returns the transcript captured by the checkpoint.
// Stored messages are untouched; the caller decides what to do with the
// snapshot.
func (e *Engine) RestoreCheckpoint(ctx context.Context, checkpointID uuid.UUID) ([]*types.Message, error) {
	return e.checkpoints.Restore(ctx, checkpointID)
}

// OnBeforeCompression registers a hook called before each compression pass
func (e *Engine) OnBeforeCompression(hook hooks.BeforeCompressionHook) {
	e.hooks.OnBeforeCompression(hook)
}

// OnAfterCompression registers a hook called after each compression pass
func (e *Engine) OnAfterCompression(hook hooks.AfterCompressionHook) {
	e.hooks.OnAfterCompression(hook)
}

// OnAfterCheckpoint registers a hook called after checkpoint creation
func (e *Engine) OnAfterCheckpoint(hook hooks.AfterCheckpointHook) {
	e.hooks.OnAfterCheckpoint(hook)
}
