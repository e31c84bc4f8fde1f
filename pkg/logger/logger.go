package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the logging interface used throughout warden. It provides
// standard levels plus a mechanism to attach structured context.
type Logger interface {
	// Debug logs a message at the debug level.
	Debug(msg string, args ...any)
	// Info logs a message at the info level.
	Info(msg string, args ...any)
	// Warn logs a message at the warning level.
	Warn(msg string, args ...any)
	// Error logs a message at the error level.
	Error(msg string, args ...any)
	// With returns a new Logger with the given structured context added.
	With(args ...any) Logger
}

// Log is the global logger instance used throughout the application.
// It is initialized with a default JSON handler pointing to stderr; stdout
// is reserved for command output and the watch view.
var Log Logger = &wrapper{l: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))}

// InitLogger initializes the global Log instance with the specified logging
// level. Supported levels are "debug", "info", "warn", and "error".
func InitLogger(level string) {
	Log = NewLogger(os.Stderr, level)
}

// NewLogger builds a Logger writing JSON records to w at the given level.
// The bridge and launcher use this to route child-process output through the
// same sink as their own records.
func NewLogger(w io.Writer, level string) Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}
	return &wrapper{l: slog.New(slog.NewJSONHandler(w, opts))}
}

type wrapper struct {
	l *slog.Logger
}

func (w *wrapper) Debug(msg string, args ...any) { w.l.Debug(msg, args...) }
func (w *wrapper) Info(msg string, args ...any)  { w.l.Info(msg, args...) }
func (w *wrapper) Warn(msg string, args ...any)  { w.l.Warn(msg, args...) }
func (w *wrapper) Error(msg string, args ...any) { w.l.Error(msg, args...) }
func (w *wrapper) With(args ...any) Logger       { return &wrapper{l: w.l.With(args...)} }
