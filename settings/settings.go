// Package settings persists engine configuration as a TOML file so
// deployments can tune budgets and maintenance policies without
// recompiling.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/youssefsiam38/memorypg/compaction"
	"github.com/youssefsiam38/memorypg/maintenance"
)

// Settings is the on-disk configuration document. Fields with no TOML
// tag on the underlying configs (intervals, callbacks) are set in code.
type Settings struct {
	Context   compaction.Config           `toml:"context"`
	Promotion maintenance.PromotionConfig `toml:"promotion"`
	Cleanup   maintenance.CleanupConfig   `toml:"cleanup"`
	Scheduler maintenance.SchedulerConfig `toml:"scheduler"`
}

// Default returns settings populated with every default value.
func Default() *Settings {
	return &Settings{
		Context:   *compaction.DefaultConfig(),
		Promotion: *maintenance.DefaultPromotionConfig(),
		Cleanup:   *maintenance.DefaultCleanupConfig(),
		Scheduler: *maintenance.DefaultSchedulerConfig(),
	}
}

// Load reads settings from path. A missing file yields defaults without
// error. Partial files are merged over defaults, then validated.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Save validates and writes settings to path, creating parent
// directories as needed.
func (s *Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks every section for consistency.
func (s *Settings) Validate() error {
	if err := s.Context.Validate(); err != nil {
		return err
	}

	if s.Promotion.DaysThreshold < 0 {
		return fmt.Errorf("promotion days_threshold must not be negative, got %d", s.Promotion.DaysThreshold)
	}
	if s.Promotion.MinAccessCount < 0 {
		return fmt.Errorf("promotion min_access_count must not be negative, got %d", s.Promotion.MinAccessCount)
	}
	if s.Promotion.BatchSize <= 0 {
		return fmt.Errorf("promotion batch_size must be positive, got %d", s.Promotion.BatchSize)
	}

	if s.Cleanup.RetentionDays <= 0 {
		return fmt.Errorf("cleanup retention_days must be positive, got %d", s.Cleanup.RetentionDays)
	}
	if s.Cleanup.MinAccessFloor < 0 {
		return fmt.Errorf("cleanup min_access_floor must not be negative, got %d", s.Cleanup.MinAccessFloor)
	}

	return nil
}
