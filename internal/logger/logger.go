package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
)

const defaultLevel = slog.LevelInfo

// ParseLevel converts a case-insensitive level name to a slog.Level. Unknown
// names map to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultLevel
	}
}

// slogLogger implements cmlog.Logger on top of log/slog.
type slogLogger struct {
	*slog.Logger
}

var _ cmlog.Logger = (*slogLogger)(nil)

// NewLogger returns a Logger writing "text" or "json" records at levelStr
// and above to writer (os.Stderr when nil). Records logged with a context
// carrying a span get trace_id and span_id attributes.
func NewLogger(levelStr string, formatStr string, writer io.Writer) cmlog.Logger {
	if writer == nil {
		writer = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(levelStr),
		ReplaceAttr: replaceLevelAttribute,
	}

	var base slog.Handler
	if strings.ToLower(formatStr) == "json" {
		base = slog.NewJSONHandler(writer, opts)
	} else {
		base = slog.NewTextHandler(writer, opts)
	}
	return &slogLogger{Logger: slog.New(NewOtelHandler(base))}
}

var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// replaceLevelAttribute renders the level attribute as a bare upper-case name.
func replaceLevelAttribute(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	name, ok := levelNames[level]
	if !ok {
		name = level.String()
	}
	a.Value = slog.StringValue(name)
	return a
}

func (l *slogLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !l.Logger.Enabled(context.Background(), level) {
		return
	}
	l.Logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *slogLogger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *slogLogger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l *slogLogger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }

// Errorf logs at ERROR. When the last argument is an error it is also
// attached as a structured "error" attribute, plus "error_type" for render
// failures so scrape errors can be filtered on.
func (l *slogLogger) Errorf(format string, args ...interface{}) {
	ctx := context.Background()
	if !l.Logger.Enabled(ctx, slog.LevelError) {
		return
	}
	msg := fmt.Sprintf(format, args...)

	var attrs []any
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			var encErr *cmerrors.EncodingError
			if errors.As(err, &encErr) {
				attrs = append(attrs, slog.String("error_type", "EncodingError"))
			}
			attrs = append(attrs, slog.String("error", err.Error()))
		}
	}
	l.Logger.Log(ctx, slog.LevelError, msg, attrs...)
}

func (l *slogLogger) Log(level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(context.Background(), level, msg, args...)
}

func (l *slogLogger) LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(ctx, level, msg, args...)
}

func (l *slogLogger) With(args ...interface{}) cmlog.Logger {
	return &slogLogger{Logger: l.Logger.With(args...)}
}

func (l *slogLogger) IsEnabled(level slog.Level) bool {
	return l.Logger.Enabled(context.Background(), level)
}

// OtelHandler is slog.Handler middleware that adds the trace_id and span_id
// of the span found in the record's context, if any.
type OtelHandler struct {
	next slog.Handler
}

func NewOtelHandler(next slog.Handler) *OtelHandler {
	return &OtelHandler{next: next}
}

func (h *OtelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *OtelHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h *OtelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewOtelHandler(h.next.WithAttrs(attrs))
}

func (h *OtelHandler) WithGroup(name string) slog.Handler {
	return NewOtelHandler(h.next.WithGroup(name))
}
