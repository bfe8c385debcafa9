// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
}

// DefaultConfig returns the CLI defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger. Logs go to stderr so the
// console progress on stdout stays readable.
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(cfg Config, out io.Writer) {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := out
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "speech2text").
		Logger()
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithRun returns a logger with the pipeline run context.
func WithRun(runID, audioPath string) zerolog.Logger {
	return log.With().
		Str("runId", runID).
		Str("audioPath", audioPath).
		Logger()
}

// WithSession returns a logger with recognition session context.
func WithSession(tier, provider string) zerolog.Logger {
	return log.With().
		Str("tier", tier).
		Str("sttProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
