package compaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/memorypg/storage"
	"github.com/youssefsiam38/memorypg/types"
)

// PrunedOutputMarker replaces oversized tool outputs that have been pruned.
const PrunedOutputMarker = "[tool output pruned]"

// Logger interface for compression logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Result contains the outcome of one compression pass.
type Result struct {
	// Action is the action that was applied. When the evaluator chose
	// compact but the summarizer failed, Action is ActionPrune and
	// Degraded is true.
	Action Action

	// Degraded indicates the pass fell back from compact to prune.
	Degraded bool

	// Decision is the evaluator verdict that drove the pass.
	Decision Decision

	// PrunedMessages is the number of tool outputs stripped.
	PrunedMessages int

	// CondensedMessages is the number of messages replaced by a summary.
	CondensedMessages int

	// TruncatedMessages is the number of messages cut by truncation.
	TruncatedMessages int

	// SummaryMessageID is the ID of the synthetic summary message, if one
	// was created.
	SummaryMessageID *uuid.UUID

	// MemoryID is the ID of the mid-term memory record, if one was created.
	MemoryID *uuid.UUID

	// TruncationID is the shared ID of a truncation pass, if one ran.
	TruncationID *uuid.UUID

	// Duration is how long the pass took.
	Duration time.Duration
}

// Engine applies the compression action chosen by the evaluator. Compression
// never deletes messages; it only flags them out of the active set, so
// checkpoint restore can always reconstruct exact history.
type Engine struct {
	store       storage.Store
	summarizer  Summarizer
	evaluator   *Evaluator
	partitioner *Partitioner
	config      *Config
	logger      Logger
	counter     *TokenCounter
}

// NewEngine creates a compression engine. If config is nil, defaults are
// used; otherwise it is validated.
func NewEngine(store storage.Store, summarizer Summarizer, config *Config, logger Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Engine{
		store:       store,
		summarizer:  summarizer,
		evaluator:   NewEvaluator(config),
		partitioner: NewPartitioner(config),
		config:      config,
		logger:      logger,
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// SetTokenCounter installs a counter used when filling missing token counts.
// Without one the engine estimates from character length.
func (e *Engine) SetTokenCounter(counter *TokenCounter) {
	e.counter = counter
}

// countMessage computes a token count for a message that has none stored.
func (e *Engine) countMessage(ctx context.Context, msg *types.Message) int {
	if e.counter != nil {
		return e.counter.CountMessage(ctx, msg)
	}
	return EstimateMessageTokens(msg)
}

// Evaluate returns the evaluator's verdict for the session without applying
// anything.
func (e *Engine) Evaluate(ctx context.Context, sessionID uuid.UUID) (Decision, error) {
	active, err := e.store.GetActiveMessages(ctx, sessionID)
	if err != nil {
		return Decision{}, NewCompressionError("Evaluate", fmt.Errorf("%w: %v", ErrStorageError, err)).
			WithSession(sessionID)
	}
	return e.evaluator.Evaluate(active), nil
}

// Run performs one compression pass for the session: evaluate, then apply
// the chosen action. Callers serialize passes per session.
func (e *Engine) Run(ctx context.Context, sessionID uuid.UUID) (*Result, error) {
	start := time.Now()

	active, err := e.store.GetActiveMessages(ctx, sessionID)
	if err != nil {
		return nil, NewCompressionError("Run", fmt.Errorf("%w: %v", ErrStorageError, err)).
			WithSession(sessionID)
	}

	e.fillTokenCounts(ctx, active)

	decision := e.evaluator.Evaluate(active)
	result := &Result{Action: decision.Action, Decision: decision}

	switch decision.Action {
	case ActionNone:
		// Within budget

	case ActionPrune:
		result.PrunedMessages, err = e.prune(ctx, active)
		if err != nil {
			return nil, err
		}

	case ActionCompact:
		if err := e.compact(ctx, sessionID, active, result); err != nil {
			return nil, err
		}

	case ActionTruncate:
		if err := e.truncate(ctx, sessionID, active, decision, result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)

	e.logger.Info("compression pass complete",
		"session_id", sessionID,
		"action", result.Action,
		"degraded", result.Degraded,
		"usage_ratio", decision.UsageRatio,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// fillTokenCounts persists counts for messages that never had one computed,
// using the token counting API when a counter is installed. Failures are
// logged, not fatal; the evaluator estimates in memory regardless.
func (e *Engine) fillTokenCounts(ctx context.Context, messages []*types.Message) {
	for _, msg := range messages {
		if msg.HasTokenCount() {
			continue
		}
		count := e.countMessage(ctx, msg)
		msg.SetTokenCount(count)
		if err := e.store.UpdateTokenCount(ctx, msg.ID, count); err != nil {
			e.logger.Warn("failed to persist token count", "message_id", msg.ID, "error", err)
		}
	}
}

// prune strips oversized tool outputs from all but the most recent
// MessagesToKeep messages. Pruning an already-pruned message is a no-op.
func (e *Engine) prune(ctx context.Context, active []*types.Message) (int, error) {
	partition := e.partitioner.Partition(active)

	pruned := 0
	for _, msg := range partition.Compactable {
		if msg.Pruned || msg.ToolOutput == "" {
			continue
		}
		if len(msg.ToolOutput) <= e.config.MaxToolOutputChars {
			continue
		}

		msg.ToolOutput = PrunedOutputMarker
		msg.Pruned = true
		count := EstimateMessageTokens(msg)
		msg.SetTokenCount(count)

		if err := e.store.PruneToolOutput(ctx, msg.ID, PrunedOutputMarker, count); err != nil {
			return pruned, NewCompressionError("Prune", fmt.Errorf("%w: %v", ErrStorageError, err)).
				WithSession(msg.SessionID).
				WithContext("message_id", msg.ID)
		}
		pruned++
	}

	return pruned, nil
}

// compact summarizes the compressible range into one synthetic summary
// message plus a mid-term memory record. On summarizer failure, timeout or
// cancellation nothing destructive is persisted; the pass degrades to prune.
func (e *Engine) compact(ctx context.Context, sessionID uuid.UUID, active []*types.Message, result *Result) error {
	partition := e.partitioner.Partition(active)
	if !partition.CanCompact() {
		// Transcript is all protected tail; pruning is the only option.
		return e.degradeToPrune(ctx, active, result)
	}

	summary, err := e.summarizer.Summarize(ctx, partition.Compactable)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// The caller stopped the session; leave the transcript in its
			// pre-compaction state.
			return NewCompressionError("Compact", ctx.Err()).WithSession(sessionID)
		}

		e.logger.Warn("summarization failed, degrading to prune",
			"session_id", sessionID,
			"error", err,
		)
		// A summarizer timeout kills ctx; the local fallback must still run.
		return e.degradeToPrune(context.WithoutCancel(ctx), active, result)
	}

	condenseID := uuid.New()
	rangeIDs := make([]uuid.UUID, len(partition.Compactable))
	for i, msg := range partition.Compactable {
		rangeIDs[i] = msg.ID
	}

	now := time.Now()
	summaryMsg := types.NewMessage(sessionID, types.RoleAssistant, summary.Summary)
	summaryMsg.IsSummary = true
	summaryMsg.CondenseID = &condenseID
	summaryMsg.SetTokenCount(EstimateMessageTokens(summaryMsg))

	record := &types.CompactedSession{
		ID:             uuid.New(),
		SessionID:      sessionID,
		Summary:        summary.Summary,
		KeyTopics:      summary.KeyTopics,
		Decisions:      summary.Decisions,
		MessageStart:   partition.Compactable[0].ID,
		MessageEnd:     partition.Compactable[len(partition.Compactable)-1].ID,
		CreatedAt:      now,
		LastAccessedAt: now,
		Tier:           types.TierMidTerm,
		TierUpdatedAt:  now,
	}

	err = e.store.Transact(ctx, func(ctx context.Context) error {
		if err := e.store.SaveMessage(ctx, summaryMsg); err != nil {
			return fmt.Errorf("save summary message: %w", err)
		}
		if err := e.store.MarkCondensed(ctx, rangeIDs, condenseID); err != nil {
			return fmt.Errorf("mark condensed: %w", err)
		}
		if err := e.store.SaveCompactedSession(ctx, record); err != nil {
			return fmt.Errorf("save compacted session: %w", err)
		}
		return nil
	})
	if err != nil {
		return NewCompressionError("Compact", fmt.Errorf("%w: %v", ErrStorageError, err)).
			WithSession(sessionID)
	}

	result.CondensedMessages = len(rangeIDs)
	result.SummaryMessageID = &summaryMsg.ID
	result.MemoryID = &record.ID
	return nil
}

// degradeToPrune applies the prune action in place of a failed compact and
// marks the result degraded.
func (e *Engine) degradeToPrune(ctx context.Context, active []*types.Message, result *Result) error {
	pruned, err := e.prune(ctx, active)
	if err != nil {
		return err
	}
	result.Action = ActionPrune
	result.Degraded = true
	result.PrunedMessages = pruned
	return nil
}

// truncate flags a contiguous oldest-first prefix of active messages out of
// the active set until usage drops below the compact threshold. The prefix
// never reaches into the protected tail.
func (e *Engine) truncate(ctx context.Context, sessionID uuid.UUID, active []*types.Message, decision Decision, result *Result) error {
	partition := e.partitioner.Partition(active)
	if !partition.CanCompact() {
		return nil
	}

	target := int(float64(decision.EffectiveLimit) * e.config.CompactThreshold)

	remaining := decision.TotalTokens
	var cut []uuid.UUID
	for _, msg := range partition.Compactable {
		if remaining < target {
			break
		}
		remaining -= MessageTokens(msg)
		cut = append(cut, msg.ID)
	}

	if len(cut) == 0 {
		return nil
	}

	truncationID := uuid.New()
	if err := e.store.MarkTruncated(ctx, cut, truncationID); err != nil {
		return NewCompressionError("Truncate", fmt.Errorf("%w: %v", ErrStorageError, err)).
			WithSession(sessionID)
	}

	result.TruncatedMessages = len(cut)
	result.TruncationID = &truncationID
	return nil
}
