// Package log defines the logging interface shared by cumetrics packages.
package log

import (
	"context"
	"log/slog"
)

// Logger is the structured logger handed to every cumetrics component.
// Implementations must be safe for concurrent use.
type Logger interface {
	// Debugf, Infof, Warnf and Errorf log a fmt.Sprintf-style message at the
	// matching level. Errorf implementations should log a trailing error
	// argument as a structured attribute.
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Log logs msg at level with alternating key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx is Log with a context, letting handlers pick up trace ids.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a child logger carrying the given attributes.
	With(args ...interface{}) Logger
	// IsEnabled reports whether level would be emitted.
	IsEnabled(level slog.Level) bool
}
