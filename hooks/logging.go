package hooks

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/youssefsiam38/memorypg/compaction"
	"github.com/youssefsiam38/memorypg/types"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *log.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *log.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: log.Default()}
}

// BeforeCompression logs before a compression run
func (h *LoggingHooks) BeforeCompression(ctx context.Context, sessionID uuid.UUID) error {
	h.logger.Printf("[MemoryPG] Starting compression for session %s", sessionID)
	return nil
}

// AfterCompression logs the outcome of a compression run
func (h *LoggingHooks) AfterCompression(ctx context.Context, sessionID uuid.UUID, result *compaction.Result) error {
	if result.Action == compaction.ActionNone {
		h.logger.Printf("[MemoryPG] Session %s within budget (%.1f%% of limit)",
			sessionID, result.Decision.UsageRatio*100)
		return nil
	}

	degraded := ""
	if result.Degraded {
		degraded = " (degraded from compact)"
	}

	h.logger.Printf("[MemoryPG] Compression complete for session %s: action=%s%s pruned=%d condensed=%d truncated=%d in %v",
		sessionID, result.Action, degraded,
		result.PrunedMessages, result.CondensedMessages, result.TruncatedMessages,
		result.Duration)
	return nil
}

// AfterCheckpoint logs checkpoint creation
func (h *LoggingHooks) AfterCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	h.logger.Printf("[MemoryPG] Checkpoint %q created for session %s: %d messages, %d tokens",
		checkpoint.Name, checkpoint.SessionID, checkpoint.MessageCount, checkpoint.TokenCount)
	return nil
}

// AfterPromotion logs tier promotion
func (h *LoggingHooks) AfterPromotion(ctx context.Context, memory *types.CompactedSession) error {
	h.logger.Printf("[MemoryPG] Memory %s promoted to long-term (accessed %d times)",
		memory.ID, memory.AccessCount)
	return nil
}

// Register attaches all logging hooks to the registry
func (h *LoggingHooks) Register(registry *Registry) {
	registry.OnBeforeCompression(h.BeforeCompression)
	registry.OnAfterCompression(h.AfterCompression)
	registry.OnAfterCheckpoint(h.AfterCheckpoint)
	registry.OnAfterPromotion(h.AfterPromotion)
}

// MetricsHooks collects metrics for monitoring
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// AfterCompression records compression metrics
func (h *MetricsHooks) AfterCompression(ctx context.Context, sessionID uuid.UUID, result *compaction.Result) error {
	tags := map[string]string{"action": string(result.Action)}
	if result.Degraded {
		tags["degraded"] = "true"
	}

	h.OnMetric("memory.compression.total_tokens", float64(result.Decision.TotalTokens), tags)
	h.OnMetric("memory.compression.usage_ratio", result.Decision.UsageRatio, tags)
	h.OnMetric("memory.compression.pruned", float64(result.PrunedMessages), tags)
	h.OnMetric("memory.compression.condensed", float64(result.CondensedMessages), tags)
	h.OnMetric("memory.compression.truncated", float64(result.TruncatedMessages), tags)
	h.OnMetric("memory.compression.duration_ms", float64(result.Duration.Milliseconds()), tags)
	return nil
}

// AfterCheckpoint records checkpoint metrics
func (h *MetricsHooks) AfterCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	h.OnMetric("memory.checkpoint.messages", float64(checkpoint.MessageCount), nil)
	h.OnMetric("memory.checkpoint.tokens", float64(checkpoint.TokenCount), nil)
	return nil
}

// Register attaches all metrics hooks to the registry
func (h *MetricsHooks) Register(registry *Registry) {
	registry.OnAfterCompression(h.AfterCompression)
	registry.OnAfterCheckpoint(h.AfterCheckpoint)
}
