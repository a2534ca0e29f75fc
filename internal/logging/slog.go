package logging

// file: internal/logging/slog.go

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level aliases the slog level so callers do not import log/slog directly.
type Level = slog.Level

// Supported levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// levelVar is shared by every handler created through InitLogging so
// SetLevel takes effect without rebuilding loggers.
var levelVar = new(slog.LevelVar)

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an existing *slog.Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return GetNoopLogger()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// WithContext attaches the attempt id, if any, carried by ctx.
func (s *slogLogger) WithContext(ctx context.Context) Logger {
	if id, ok := AttemptIDFromContext(ctx); ok {
		return &slogLogger{l: s.l.With("attempt_id", id)}
	}
	return s
}

func (s *slogLogger) WithField(key string, value any) Logger {
	return &slogLogger{l: s.l.With(key, value)}
}

// InitLogging installs a JSON slog handler writing to w as the default logger.
func InitLogging(level Level, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	levelVar.Set(level)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
	SetDefaultLogger(NewSlogLogger(slog.New(handler)))
}

// SetupDefaultLogger parses a textual level ("debug", "info", "warn", "error")
// and initializes logging to stderr. Unknown levels fall back to info.
func SetupDefaultLogger(level string) {
	InitLogging(ParseLevel(level), os.Stderr)
}

// ParseLevel converts a level name into a Level.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel changes the minimum level of loggers created by InitLogging.
func SetLevel(level Level) {
	levelVar.Set(level)
}

// IsDebugEnabled reports whether debug output is currently enabled.
func IsDebugEnabled() bool {
	return levelVar.Level() <= LevelDebug
}
