// Package logging is the leveled, structured logger shared by every Norbert
// component. Packages ask for a named logger with GetLogger; the CLI installs
// the slog-backed implementation at startup.
package logging

// file: internal/logging/logger.go

import (
	"context"
	"sync"
)

// Logger takes a message plus alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// WithContext returns a logger that also records values carried by ctx,
	// such as the connection attempt id.
	WithContext(ctx context.Context) Logger

	// WithField returns a logger that adds key=value to every record.
	WithField(key string, value any) Logger
}

type discard struct{}

func (discard) Debug(string, ...any)                 {}
func (discard) Info(string, ...any)                  {}
func (discard) Warn(string, ...any)                  {}
func (discard) Error(string, ...any)                 {}
func (d discard) WithContext(context.Context) Logger { return d }
func (d discard) WithField(string, any) Logger       { return d }

// GetNoopLogger returns a Logger that drops everything. Constructors use it
// when handed a nil logger.
func GetNoopLogger() Logger { return discard{} }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = discard{}
)

// SetDefaultLogger replaces the logger GetLogger derives from. nil is ignored.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// GetLogger returns the default logger tagged with component=name. Loggers
// obtained before SetDefaultLogger keep discarding.
func GetLogger(name string) Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	return l.WithField("component", name)
}

type attemptIDKey struct{}

// ContextWithAttemptID returns a context whose loggers (via WithContext)
// carry the given connection attempt id.
func ContextWithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptIDKey{}, id)
}

// AttemptIDFromContext returns the attempt id stored by ContextWithAttemptID.
func AttemptIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(attemptIDKey{}).(string)
	return id, ok && id != ""
}
