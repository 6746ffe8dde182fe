// Package log is zkexec's structured logger. It is a thin layer over
// log/slog that tags records with the subsystem that emitted them and
// renders them as text lines, ANSI-colored lines or JSON.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger wraps slog.Logger with module context.
type Logger struct {
	inner *slog.Logger
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, slog.LevelInfo))
}

// New returns a Logger that writes text lines at or above level to w.
func New(w io.Writer, level slog.Level) *Logger {
	return NewFormatted(w, level, &TextFormatter{})
}

// NewWithHandler returns a Logger backed by h.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return NewWithHandler(slog.DiscardHandler)
}

// SetDefault replaces the logger returned by Default. A nil l is ignored.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// Default returns the process-wide logger. Executors without a configured
// logger write through it.
func Default() *Logger {
	return defaultLogger.Load()
}

// Module returns a child logger whose records carry module=name.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// WithGroup returns a child logger that nests later attributes under name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{inner: l.inner.WithGroup(name)}
}

// Enabled reports whether records at level would be written. Callers use it
// to skip building expensive attributes.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.inner.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
