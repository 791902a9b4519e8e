package compaction

import (
	"fmt"
)

// Default configuration values.
const (
	DefaultMaxTokens           = 200000
	DefaultModelContextLimit   = 200000
	DefaultModelOutputLimit    = 8192
	DefaultPruneThreshold      = 0.70
	DefaultCompactThreshold    = 0.85
	DefaultTruncateThreshold   = 0.95
	DefaultMessagesToKeep      = 10
	DefaultCheckpointInterval  = 20
	DefaultSummarizerModel     = "claude-3-5-haiku-20241022"
	DefaultSummarizerMaxTokens = 4096
	DefaultMaxToolOutputChars  = 2000

	// minEffectiveLimit is the floor for the effective token limit so the
	// evaluator never divides by a degenerate budget.
	minEffectiveLimit = 1024
)

// Config holds the context-engine configuration. It is loaded at startup,
// mutated via settings, and validated before use; invalid threshold ordering
// is rejected, never silently clamped.
type Config struct {
	// Enabled turns the whole engine on or off. When false the evaluator
	// always returns ActionNone.
	Enabled bool `toml:"enabled"`

	// MaxTokens is the user-configured token budget for a conversation.
	MaxTokens int `toml:"max_tokens"`

	// ModelContextLimit is the model's context window size.
	ModelContextLimit int `toml:"model_context_limit"`

	// ModelOutputLimit is reserved output headroom subtracted from the
	// effective budget.
	ModelOutputLimit int `toml:"model_output_limit"`

	// PruneThreshold, CompactThreshold and TruncateThreshold are usage
	// fractions (0-1], ordered prune <= compact <= truncate.
	PruneThreshold    float64 `toml:"prune_threshold"`
	CompactThreshold  float64 `toml:"compact_threshold"`
	TruncateThreshold float64 `toml:"truncate_threshold"`

	// MessagesToKeep is the number of most recent messages never pruned,
	// condensed or truncated.
	MessagesToKeep int `toml:"messages_to_keep"`

	// CheckpointInterval is how many appended messages between automatic
	// checkpoints. Zero disables automatic checkpoints.
	CheckpointInterval int `toml:"checkpoint_interval"`

	// SummarizerModel is the model used for compaction summaries.
	SummarizerModel string `toml:"summarizer_model"`

	// SummarizerMaxTokens is the maximum tokens for the summary response.
	SummarizerMaxTokens int `toml:"summarizer_max_tokens"`

	// MaxToolOutputChars is the size above which a tool output payload is
	// considered oversized and eligible for pruning.
	MaxToolOutputChars int `toml:"max_tool_output_chars"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		MaxTokens:           DefaultMaxTokens,
		ModelContextLimit:   DefaultModelContextLimit,
		ModelOutputLimit:    DefaultModelOutputLimit,
		PruneThreshold:      DefaultPruneThreshold,
		CompactThreshold:    DefaultCompactThreshold,
		TruncateThreshold:   DefaultTruncateThreshold,
		MessagesToKeep:      DefaultMessagesToKeep,
		CheckpointInterval:  DefaultCheckpointInterval,
		SummarizerModel:     DefaultSummarizerModel,
		SummarizerMaxTokens: DefaultSummarizerMaxTokens,
		MaxToolOutputChars:  DefaultMaxToolOutputChars,
	}
}

// ApplyDefaults fills in zero values with defaults. Enabled is left as set.
func (c *Config) ApplyDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ModelContextLimit == 0 {
		c.ModelContextLimit = DefaultModelContextLimit
	}
	if c.ModelOutputLimit == 0 {
		c.ModelOutputLimit = DefaultModelOutputLimit
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = DefaultPruneThreshold
	}
	if c.CompactThreshold == 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	if c.TruncateThreshold == 0 {
		c.TruncateThreshold = DefaultTruncateThreshold
	}
	if c.MessagesToKeep == 0 {
		c.MessagesToKeep = DefaultMessagesToKeep
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = DefaultSummarizerModel
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = DefaultSummarizerMaxTokens
	}
	if c.MaxToolOutputChars == 0 {
		c.MaxToolOutputChars = DefaultMaxToolOutputChars
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidConfig, c.MaxTokens)
	}
	if c.ModelContextLimit <= 0 {
		return fmt.Errorf("%w: model_context_limit must be positive, got %d", ErrInvalidConfig, c.ModelContextLimit)
	}
	if c.ModelOutputLimit < 0 {
		return fmt.Errorf("%w: model_output_limit must be non-negative, got %d", ErrInvalidConfig, c.ModelOutputLimit)
	}

	for name, v := range map[string]float64{
		"prune_threshold":    c.PruneThreshold,
		"compact_threshold":  c.CompactThreshold,
		"truncate_threshold": c.TruncateThreshold,
	} {
		if v <= 0 || v > 1.0 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %f", ErrInvalidConfig, name, v)
		}
	}

	if c.PruneThreshold > c.CompactThreshold {
		return fmt.Errorf("%w: prune_threshold (%f) must not exceed compact_threshold (%f)",
			ErrInvalidConfig, c.PruneThreshold, c.CompactThreshold)
	}
	if c.CompactThreshold > c.TruncateThreshold {
		return fmt.Errorf("%w: compact_threshold (%f) must not exceed truncate_threshold (%f)",
			ErrInvalidConfig, c.CompactThreshold, c.TruncateThreshold)
	}

	if c.MessagesToKeep < 0 {
		return fmt.Errorf("%w: messages_to_keep must be non-negative, got %d", ErrInvalidConfig, c.MessagesToKeep)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("%w: checkpoint_interval must be non-negative, got %d", ErrInvalidConfig, c.CheckpointInterval)
	}
	if c.SummarizerModel == "" {
		return fmt.Errorf("%w: summarizer_model is required", ErrInvalidConfig)
	}
	if c.SummarizerMaxTokens <= 0 {
		return fmt.Errorf("%w: summarizer_max_tokens must be positive, got %d", ErrInvalidConfig, c.SummarizerMaxTokens)
	}

	return nil
}

// EffectiveLimit returns the token budget the evaluator measures usage
// against: min(MaxTokens, ModelContextLimit) minus output headroom, floored
// at a minimum safe value.
func (c *Config) EffectiveLimit() int {
	limit := c.MaxTokens
	if c.ModelContextLimit < limit {
		limit = c.ModelContextLimit
	}
	limit -= c.ModelOutputLimit
	if limit < minEffectiveLimit {
		return minEffectiveLimit
	}
	return limit
}
