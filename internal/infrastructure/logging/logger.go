// Package logging provides structured logging utilities.
//
// The text format is a colored single-line console format:
// [LEVEL] [STAGE] [HH:MM:SS] message key=value
//
// The json format emits standard slog JSON lines for log shippers.
package logging

import (
	"log/slog"
	"os"

	"github.com/kaihaan/spendmatch/internal/infrastructure/config"
)

// NewLogger creates a structured logger based on config
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = NewStageHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// NewStageLogger creates a logger scoped to one pipeline stage (e.g.
// "match", "enrich") so the stage shows up bracketed in text output.
func NewStageLogger(cfg config.LoggingConfig, stage string) *slog.Logger {
	return NewLogger(cfg).With("stage", stage)
}
