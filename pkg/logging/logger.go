// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// File is an optional path; when set, logs are duplicated to this file
	// in addition to Output. The file is opened in append mode.
	File string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	if cfg.File != "" {
		// Best effort: a broken log file must not prevent extraction.
		if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			output = zerolog.MultiLevelWriter(output, f)
		}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Rate limit pacing before each call
//   - Page-by-page pagination progress
//   - Cache operations (hit/miss, key, TTL)
//
// Info: Normal operation events
//   - Extraction start/finish with record counts
//   - Requests succeeding after retries
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and their backoff delays
//   - Pagination safety limit reached
//   - Cache errors (fallback to direct request)
//
// Error: Error conditions requiring attention
//   - Requests failing after all retries
//   - API rejections (error/error_description in response)
//   - Malformed responses
//
// Context Fields:
//   - method: CRM REST method name (e.g. crm.deal.list)
//   - attempt: physical attempt number within one logical call
//   - status: HTTP status code
//   - duration: request duration
//   - error_class: classification (api, transport, http, malformed)
//   - pages: pages fetched during one extraction
//   - records: unique records emitted
