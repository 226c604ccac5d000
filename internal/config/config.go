// Package config defines the tunable surface of the narrative core.
// The Coordinator consumes immutable snapshots of this configuration;
// nothing in this package persists anything (loading and watching a
// file is the caller's choice, storage of config is out of scope).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"storymind/internal/types"
)

// Config holds all narrative-core tuning. Zero value is not usable;
// start from Default() and override.
type Config struct {
	// Per-tracker enable switches.
	Trackers TrackersConfig `yaml:"trackers"`

	// How eagerly insights surface. 0.0 = nearly silent, 1.0 = verbose.
	Assertiveness float64 `yaml:"assertiveness"`

	// Per-concern sensitivity thresholds, all in [0,1].
	Sensitivity SensitivityConfig `yaml:"sensitivity"`

	// Rolling history caps.
	History HistoryConfig `yaml:"history"`

	// Drift stabilizer thresholds.
	Drift DriftConfig `yaml:"drift"`

	// Weight constants behind the scoring formulas.
	Weights Weights `yaml:"weights"`

	// Logging configuration for the injected logging collaborator.
	Logging LoggingConfig `yaml:"logging"`
}

// TrackersConfig switches individual trackers on or off.
type TrackersConfig struct {
	DNA        bool `yaml:"dna"`
	Constraint bool `yaml:"constraint"`
	Recursion  bool `yaml:"recursion"`
	Character  bool `yaml:"character"`
	Engagement bool `yaml:"engagement"`
	Drift      bool `yaml:"drift"`
}

// SensitivityConfig sets detection thresholds per concern.
type SensitivityConfig struct {
	ConstraintPressure float64 `yaml:"constraint_pressure"`
	CharacterDrift     float64 `yaml:"character_drift"`
	UnresolvedLoops    float64 `yaml:"unresolved_loops"`
	EngagementDrops    float64 `yaml:"engagement_drops"`
	PatternBreaks      float64 `yaml:"pattern_breaks"`
	CrossSystem        float64 `yaml:"cross_system"`
}

// HistoryConfig caps the rolling histories. Total memory is a function
// of these caps, not of session length.
type HistoryConfig struct {
	DNAUnits           int `yaml:"dna_units"`
	ElementsPerLevel   int `yaml:"elements_per_level"`
	VoiceSamples       int `yaml:"voice_samples"`
	ChapterSnapshots   int `yaml:"chapter_snapshots"`
	InsightDedupeTurns int `yaml:"insight_dedupe_turns"`
}

// DriftConfig holds the drift stabilizer limits.
type DriftConfig struct {
	Enabled                   bool    `yaml:"enabled"`
	StaleObligationThreshold  int     `yaml:"stale_obligation_threshold"`
	EmotionalDecayLimit       float64 `yaml:"emotional_decay_limit"`
	ThemeThreshold            float64 `yaml:"theme_threshold"`
	SpatialPressureChapterLim int     `yaml:"spatial_pressure_chapter_limit"`
	TrendLookback             int     `yaml:"trend_lookback"`
}

// LoggingConfig configures the category logger.
type LoggingConfig struct {
	Level      string   `yaml:"level"` // debug, info, warn, error
	JSONFormat bool     `yaml:"json_format"`
	Categories []string `yaml:"categories"` // empty = all enabled
	AuditPath  string   `yaml:"audit_path"` // empty = audit disabled
}

// Default returns the configuration the original heuristics were tuned
// with. Callers override fields, then Validate.
func Default() Config {
	return Config{
		Trackers: TrackersConfig{
			DNA: true, Constraint: true, Recursion: true,
			Character: true, Engagement: true, Drift: true,
		},
		Assertiveness: 0.5,
		Sensitivity: SensitivityConfig{
			ConstraintPressure: 0.7,
			CharacterDrift:     0.8,
			UnresolvedLoops:    0.6,
			EngagementDrops:    0.7,
			PatternBreaks:      0.5,
			CrossSystem:        0.7,
		},
		History: HistoryConfig{
			DNAUnits:           256,
			ElementsPerLevel:   64,
			VoiceSamples:       32,
			ChapterSnapshots:   128,
			InsightDedupeTurns: 5,
		},
		Drift: DriftConfig{
			Enabled:                   true,
			StaleObligationThreshold:  5,
			EmotionalDecayLimit:       2.5,
			ThemeThreshold:            1.0,
			SpatialPressureChapterLim: 3,
			TrendLookback:             6,
		},
		Weights: DefaultWeights(),
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file and merges it over Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals YAML over Default() and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// knownTrackers is the closed set of tracker names usable in overrides.
var knownTrackers = map[string]bool{
	"dna": true, "constraint": true, "recursion": true,
	"character": true, "engagement": true, "drift": true,
}

// ValidTracker reports whether name identifies a tracker.
func ValidTracker(name string) bool { return knownTrackers[name] }

// Validate rejects out-of-range thresholds before any event is
// processed. Every failure is a types.ConfigurationError.
func (c Config) Validate() error {
	if err := unit("assertiveness", c.Assertiveness); err != nil {
		return err
	}
	for key, v := range map[string]float64{
		"sensitivity.constraint_pressure": c.Sensitivity.ConstraintPressure,
		"sensitivity.character_drift":     c.Sensitivity.CharacterDrift,
		"sensitivity.unresolved_loops":    c.Sensitivity.UnresolvedLoops,
		"sensitivity.engagement_drops":    c.Sensitivity.EngagementDrops,
		"sensitivity.pattern_breaks":      c.Sensitivity.PatternBreaks,
		"sensitivity.cross_system":        c.Sensitivity.CrossSystem,
	} {
		if err := unit(key, v); err != nil {
			return err
		}
	}
	for key, v := range map[string]int{
		"history.dna_units":          c.History.DNAUnits,
		"history.elements_per_level": c.History.ElementsPerLevel,
		"history.voice_samples":      c.History.VoiceSamples,
		"history.chapter_snapshots":  c.History.ChapterSnapshots,
	} {
		if v <= 0 {
			return &types.ConfigurationError{Key: key, Reason: "history cap must be positive"}
		}
	}
	if c.Drift.StaleObligationThreshold < 0 {
		return &types.ConfigurationError{Key: "drift.stale_obligation_threshold", Reason: "cannot be negative"}
	}
	if c.Drift.TrendLookback < 2 {
		return &types.ConfigurationError{Key: "drift.trend_lookback", Reason: "trend needs at least 2 snapshots"}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &types.ConfigurationError{Key: "logging.level", Reason: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	for _, name := range c.Logging.Categories {
		if !validCategoryName(name) {
			return &types.ConfigurationError{Key: "logging.categories", Reason: fmt.Sprintf("unknown category %q", name)}
		}
	}
	return c.Weights.Validate()
}

func unit(key string, v float64) error {
	if v < 0.0 || v > 1.0 {
		return &types.ConfigurationError{Key: key, Reason: fmt.Sprintf("%.3f outside [0,1]", v)}
	}
	return nil
}

// validCategoryName mirrors the category names the logging package
// registers; kept here so unknown names fail at load time.
func validCategoryName(name string) bool {
	switch name {
	case "dna", "constraint", "recursion", "character",
		"engagement", "drift", "coordinator", "store", "config":
		return true
	}
	return false
}
