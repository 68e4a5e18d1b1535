// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a SidekickLogger with contextual helpers
// (component, conversation) and domain specific logging helpers for turns and
// index rebuilds.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger defines the minimal logging interface for sidekick.
// This allows users to provide their own logger implementation or use the
// built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// LoggerConfig configures construction of a SidekickLogger.
type LoggerConfig struct {
	Level     slog.Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline text info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: slog.LevelInfo, Format: "text", Output: os.Stdout}
}

// ParseLevel maps a user friendly level string to a slog.Level, defaulting to
// info for unknown values.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SidekickLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
type SidekickLogger struct {
	logger          *slog.Logger
	component       string
	conversationKey string
}

// NewLogger builds a SidekickLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *SidekickLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return &SidekickLogger{logger: slog.New(handler), component: cfg.Component}
}

// WithComponent sets the logical component (ingest, dispatch, heartbeat, ...).
func (l *SidekickLogger) WithComponent(c string) *SidekickLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithConversation attaches a conversation key to every log entry.
func (l *SidekickLogger) WithConversation(key string) *SidekickLogger {
	nl := *l
	nl.conversationKey = key
	return &nl
}

func (l *SidekickLogger) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(extra)+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.conversationKey != "" {
		attrs = append(attrs, slog.String("conversation_key", l.conversationKey))
	}
	return append(attrs, extra...)
}

func (l *SidekickLogger) log(level slog.Level, msg string, args ...any) {
	l.logger.LogAttrs(context.Background(), level, msg, append(l.attrs(), argsToAttrs(args)...)...)
}

func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

// Debug logs at debug level.
func (l *SidekickLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *SidekickLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *SidekickLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *SidekickLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogTurn records execution details for one agent turn.
func (l *SidekickLogger) LogTurn(lane string, dur time.Duration, success bool, err error) {
	attrs := l.attrs(slog.String("lane", lane), slog.Duration("duration", dur), slog.Bool("success", success))
	level := slog.LevelInfo
	msg := "Turn completed"
	if !success {
		level = slog.LevelError
		msg = "Turn failed"
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogRebuild records an index rebuild pass.
func (l *SidekickLogger) LogRebuild(chunks int, dur time.Duration, vector bool) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Index rebuilt",
		append(l.attrs(), slog.Int("chunks", chunks), slog.Duration("duration", dur), slog.Bool("vector", vector))...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is
// disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
