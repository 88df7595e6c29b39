// Package logging wraps log/slog with the attributes geofence logs carry.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

type contextKey struct{}

// Logger is a slog.Logger that remembers its minimum level.
type Logger struct {
	*slog.Logger
	level slog.Level
}

// Options configures New. Zero values mean JSON at info level on stdout.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logger. Source locations are added at debug level.
func New(opts Options) *Logger {
	level := ParseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	hopts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, FormatText) {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}
	return &Logger{Logger: slog.New(handler), level: level}
}

// NewLogger returns a JSON logger on stdout.
func NewLogger(level string) *Logger {
	return New(Options{Level: level})
}

// NewLoggerWithWriter returns a JSON logger writing to w.
func NewLoggerWithWriter(w io.Writer, level string) *Logger {
	return New(Options{Level: level, Output: w})
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Level: "error", Output: io.Discard})
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Level returns the minimum level the logger emits.
func (l *Logger) Level() slog.Level {
	return l.level
}

// WithContext stores l in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored by WithContext, or an info logger on
// stdout.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return l
	}
	return NewLogger("info")
}

// With returns a logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

func (l *Logger) WithService(name string) *Logger {
	return l.With("service", name)
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With("request_id", requestID)
}

// WithPolygon tags records with a polygon name, plus its id once stored.
func (l *Logger) WithPolygon(name, id string) *Logger {
	if id == "" {
		return l.With("polygon_name", name)
	}
	return l.With("polygon_name", name, "polygon_id", id)
}

// WithError is a no-op for a nil err.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}
