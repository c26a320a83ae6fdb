// Package logging configures the process-wide zerolog logger and the field
// names shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a textual log level as it appears in LOG_LEVEL.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Field names used across packages. The webhook URL embeds its secret and is
// never logged; FieldEndpointKey carries its md5 instead.
const (
	FieldComponent   = "component"
	FieldService     = "service"
	FieldEndpointKey = "endpoint_key"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Debug forces debug output regardless of Level (DEBUG_MODE).
	Debug bool

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service, when set, is attached to every line.
	Service string
}

// Setup installs the global logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level := ParseLevel(cfg.Level)
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str(FieldService, cfg.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger

	return logger
}

// ParseLevel maps a LogLevel to zerolog. Unknown values mean info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a component logger from the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// WithEndpoint scopes logger to one webhook endpoint by its key.
func WithEndpoint(logger zerolog.Logger, key string) zerolog.Logger {
	return logger.With().Str(FieldEndpointKey, key).Logger()
}

// Discard returns a logger that drops everything.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// Levels in use:
//
//	debug  cache lookups and writes, per-page progress, joined sessions
//	info   finished sessions, server lifecycle, one line per request
//	warn   self-hosted webhook hosts, best-effort cache failures,
//	       cooldown rejections, partial results
//	error  failed sessions with status, remote code and body prefix
