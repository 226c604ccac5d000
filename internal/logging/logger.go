// Package logging provides category-scoped loggers for the narrative
// core plus a JSONL audit trail of warning/injection events.
//
// Nothing here is a process-wide singleton: the caller builds one
// *Logger from its configuration and injects it into the Coordinator,
// which hands category sub-loggers to trackers. Disabled categories
// get a no-op logger so call sites never branch.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storymind/internal/config"
)

// Category scopes log output to one subsystem.
type Category string

const (
	CategoryDNA         Category = "dna"
	CategoryConstraint  Category = "constraint"
	CategoryRecursion   Category = "recursion"
	CategoryCharacter   Category = "character"
	CategoryEngagement  Category = "engagement"
	CategoryDrift       Category = "drift"
	CategoryCoordinator Category = "coordinator"
	CategoryStore       Category = "store"
	CategoryConfig      Category = "config"
)

// Logger owns the zap backend and the per-category enable set.
type Logger struct {
	base    *zap.SugaredLogger
	enabled map[Category]bool // nil = all categories enabled
	noop    *CategoryLogger
}

// CategoryLogger is what call sites use. Methods are printf-style.
type CategoryLogger struct {
	sugar    *zap.SugaredLogger
	category Category
	enabled  bool
}

// New builds a Logger from config. An unknown level falls back to info.
func New(cfg config.LoggingConfig) *Logger {
	level := zapcore.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	base := zap.New(core).Sugar()

	var enabled map[Category]bool
	if len(cfg.Categories) > 0 {
		enabled = make(map[Category]bool, len(cfg.Categories))
		for _, name := range cfg.Categories {
			enabled[Category(name)] = true
		}
	}

	return &Logger{
		base:    base,
		enabled: enabled,
		noop:    &CategoryLogger{},
	}
}

// NewNop returns a logger that discards everything. Useful in tests and
// as the default when the caller injects nothing.
func NewNop() *Logger {
	return &Logger{base: zap.NewNop().Sugar(), noop: &CategoryLogger{}}
}

// Get returns the logger for a category, or a no-op if disabled.
func (l *Logger) Get(c Category) *CategoryLogger {
	if l.enabled != nil && !l.enabled[c] {
		return l.noop
	}
	return &CategoryLogger{
		sugar:    l.base.With("category", string(c)),
		category: c,
		enabled:  true,
	}
}

// Sync flushes buffered output.
func (l *Logger) Sync() error { return l.base.Sync() }

func (cl *CategoryLogger) Debug(format string, args ...any) {
	if cl.enabled {
		cl.sugar.Debugf(format, args...)
	}
}

func (cl *CategoryLogger) Info(format string, args ...any) {
	if cl.enabled {
		cl.sugar.Infof(format, args...)
	}
}

func (cl *CategoryLogger) Warn(format string, args ...any) {
	if cl.enabled {
		cl.sugar.Warnf(format, args...)
	}
}

func (cl *CategoryLogger) Error(format string, args ...any) {
	if cl.enabled {
		cl.sugar.Errorf(format, args...)
	}
}

// Enabled reports whether this category emits output.
func (cl *CategoryLogger) Enabled() bool { return cl.enabled }
