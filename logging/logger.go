// Package logging wraps slog behind a stable API so the daemon can
// swap handlers and attach the optional Sentry hook in one place.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

type Logger struct {
	slog *slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level     string    // "debug", "info", "warn", "error"
	Format    string    // "json", "text"
	AddSource bool      // Include source file/line in logs
	Output    io.Writer // Output destination (default: os.Stderr)
}

var defaultLogger *Logger
var sentryEnabled bool

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
}

// InitSentry initializes Sentry for error reporting. Call before Init
// in main. Returns a cleanup function that should be deferred. A blank
// DSN disables the hook entirely.
func InitSentry(cfg SentryConfig) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		EnableLogs:  true,
	})
	if err != nil {
		return nil, err
	}

	sentryEnabled = true

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}

// Init initializes the global logger from environment variables.
// LOG_LEVEL: debug, info, warn, error (default: info)
// LOG_FORMAT: json, text (default: text; the daemon logs to the
// desktop app's stderr, not a log collector)
func Init() *Logger {
	cfg := Config{
		Level:     getEnv("LOG_LEVEL", "info"),
		Format:    getEnv("LOG_FORMAT", "text"),
		AddSource: getEnv("LOG_ADD_SOURCE", "false") == "true",
		Output:    os.Stderr,
	}

	defaultLogger = New(cfg)
	return defaultLogger
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{slog: slog.New(handler)}
}

// Default returns the default logger, initializing it if necessary
func Default() *Logger {
	if defaultLogger == nil {
		return Init()
	}
	return defaultLogger
}

// With returns a new Logger with the given key-value pairs added to every log entry
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs at info level
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs at warn level and sends to Sentry Logs if enabled
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
	if sentryEnabled {
		logToSentry(sentry.NewLogger(context.Background()).Warn(), msg, args)
	}
}

// Error logs at error level and sends to Sentry Logs if enabled
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
	if sentryEnabled {
		logToSentry(sentry.NewLogger(context.Background()).Error(), msg, args)
	}
}

// logToSentry sends a log entry to Sentry Logs with key-value attributes
func logToSentry(entry sentry.LogEntry, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			entry = entry.String(key, formatValue(args[i+1]))
		}
	}
	entry.Emit(msg)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
