// Package compaction keeps a conversation transcript within its token
// budget.
//
// The Evaluator measures active-message token usage against the effective
// limit and picks exactly one action: none, prune, compact or truncate,
// tested from most to least severe. The Engine applies that action:
//
//   - prune strips oversized tool outputs from older messages
//   - compact replaces the older range with a synthetic summary message and
//     persists a mid-term CompactedSession record
//   - truncate hard-cuts the oldest prefix out of the active set
//
// No action deletes messages. Condensed and truncated messages stay in
// storage with their state flagged, so checkpoint restore can always
// reconstruct exact history. If the summarizer fails or times out, compact
// degrades to prune and the result is marked Degraded.
package compaction
