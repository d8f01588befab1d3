package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	// Logger is the global structured logger
	Logger *slog.Logger

	// Verbose enables debug logging
	Verbose bool
)

// switchHandler forwards to the handler installed by the latest Setup, so
// Setup may run while other goroutines are logging.
type switchHandler struct {
	current atomic.Pointer[slog.Handler]
}

func (s *switchHandler) set(h slog.Handler) { s.current.Store(&h) }
func (s *switchHandler) get() slog.Handler  { return *s.current.Load() }

func (s *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.get().Enabled(ctx, level)
}

func (s *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.get().Handle(ctx, r)
}

func (s *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.get().WithAttrs(attrs)
}

func (s *switchHandler) WithGroup(name string) slog.Handler {
	return s.get().WithGroup(name)
}

var root = &switchHandler{}

func init() {
	// Default to a simple text handler for CLI output
	root.set(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	Logger = slog.New(root)
}

// Setup configures the logger based on verbosity and output preferences
func Setup(verbose bool, jsonOutput bool, w io.Writer) {
	Verbose = verbose

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if w == nil {
		w = os.Stderr
	}

	if jsonOutput {
		root.set(slog.NewJSONHandler(w, opts))
	} else {
		root.set(slog.NewTextHandler(w, opts))
	}
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// With returns a logger with additional attributes
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}
