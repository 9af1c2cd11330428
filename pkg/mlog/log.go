// Package mlog defines the logging contract used across the record engine.
//
// Grounded on LerianStudio/midaz's common/mlog package: a small interface
// with leveled methods plus WithFields, a no-op implementation for tests,
// and a real implementation selected at construction time rather than a
// global logger.
package mlog

import "context"

// Logger is the logging contract every adapter and service depends on.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)

	// WithFields returns a child logger with the given key/value pairs
	// attached to every subsequent entry.
	WithFields(fields ...any) Logger

	Sync() error
}

// NoneLogger discards everything. Used as the context default and in tests
// that don't care about log output.
type NoneLogger struct{}

func (NoneLogger) Info(args ...any)            {}
func (NoneLogger) Infof(string, ...any)        {}
func (NoneLogger) Error(args ...any)           {}
func (NoneLogger) Errorf(string, ...any)       {}
func (NoneLogger) Warn(args ...any)            {}
func (NoneLogger) Warnf(string, ...any)        {}
func (NoneLogger) Debug(args ...any)           {}
func (NoneLogger) Debugf(string, ...any)       {}
func (n NoneLogger) WithFields(...any) Logger  { return n }
func (NoneLogger) Sync() error                 { return nil }

type loggerContextKey struct{}

// ContextWithLogger attaches a Logger to ctx.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext extracts the Logger attached to ctx, or NoneLogger if absent.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(Logger); ok && l != nil {
		return l
	}

	return NoneLogger{}
}
