package compaction

import (
	"github.com/youssefsiam38/memorypg/types"
)

// Action is the compression action chosen by the evaluator.
type Action string

const (
	// ActionNone means usage is within budget.
	ActionNone Action = "none"

	// ActionPrune strips oversized tool outputs from older messages.
	ActionPrune Action = "prune"

	// ActionCompact replaces older messages with a summary and a mid-term
	// memory record.
	ActionCompact Action = "compact"

	// ActionTruncate hard-cuts the oldest messages out of the active set.
	ActionTruncate Action = "truncate"
)

// Decision is the evaluator's verdict for one transcript.
type Decision struct {
	// Action is the compression action required, ActionNone if within
	// budget.
	Action Action

	// TotalTokens is the token usage of the active messages.
	TotalTokens int

	// EffectiveLimit is the budget usage was measured against.
	EffectiveLimit int

	// UsageRatio is TotalTokens / EffectiveLimit.
	UsageRatio float64
}

// Evaluator decides which compression action a transcript needs. It never
// blocks on a missing token count; messages without one are estimated from
// their character length.
type Evaluator struct {
	config *Config
}

// NewEvaluator creates an evaluator for the given configuration.
func NewEvaluator(config *Config) *Evaluator {
	return &Evaluator{config: config}
}

// Evaluate inspects the active messages and returns exactly one action,
// testing thresholds from most to least severe.
func (e *Evaluator) Evaluate(messages []*types.Message) Decision {
	limit := e.config.EffectiveLimit()

	total := 0
	for _, msg := range messages {
		total += MessageTokens(msg)
	}

	decision := Decision{
		Action:         ActionNone,
		TotalTokens:    total,
		EffectiveLimit: limit,
		UsageRatio:     float64(total) / float64(limit),
	}

	if !e.config.Enabled {
		return decision
	}

	switch {
	case decision.UsageRatio >= e.config.TruncateThreshold:
		decision.Action = ActionTruncate
	case decision.UsageRatio >= e.config.CompactThreshold:
		decision.Action = ActionCompact
	case decision.UsageRatio >= e.config.PruneThreshold:
		decision.Action = ActionPrune
	}

	return decision
}
