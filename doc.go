// Package memorypg provides a tiered conversational memory engine for Go.
//
// MemoryPG is opinionated (Anthropic + PostgreSQL + pgx) and keeps long
// conversations inside a model token budget without losing history: as a
// session grows, the engine prunes oversized tool outputs, condenses older
// spans into summaries backed by mid-term memory records, and as a last
// resort truncates the oldest messages out of the active set. Nothing is
// deleted; flagged messages stay in storage and checkpoints can always
// reproduce the exact transcript.
//
// # Key Features
//
//   - Token budget evaluation with graduated prune / compact / truncate actions
//   - Summarization via the Anthropic API, with degradation to prune on failure
//   - Named and automatic interval checkpoints with exact restore
//   - Mid-term memory records promoted to long-term by a background service
//   - Cleanup of expired and inconsistent records
//   - Hooks for observability
//
// # Quick Start
//
// Create an engine with required configuration:
//
//	pool, _ := pgxpool.New(ctx, connString)
//	client := anthropic.NewClient()
//	engine, err := memorypg.New(memorypg.Config{
//	    DB:     pool,
//	    Client: &client,
//	})
//
// Append messages; the engine keeps the session within budget:
//
//	sessionID := uuid.New()
//	result, _ := engine.Append(ctx, sessionID, types.RoleUser, "Help me build a REST API")
//	active, _ := engine.ActiveMessages(ctx, sessionID)
//
// # Background Maintenance
//
// Promotion and cleanup run as independent services:
//
//	promo := maintenance.NewPromotion(engine.Memories(), nil, nil)
//	promo.Start(ctx)
//	defer promo.Stop(ctx)
package memorypg
