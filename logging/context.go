package logging

import (
	"context"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	TabIDKey     contextKey = "tab_id"
	PaneIDKey    contextKey = "pane_id"
	LoggerKey    contextKey = "logger"
)

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTabID adds tab ID to context
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, TabIDKey, tabID)
}

// WithPaneID adds pane ID to context
func WithPaneID(ctx context.Context, paneID string) context.Context {
	return context.WithValue(ctx, PaneIDKey, paneID)
}

// WithLogger adds a logger to context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext extracts the logger from context, enriched with context
// values. Falls back to the default logger if none is present.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(LoggerKey).(*Logger)
	if !ok || logger == nil {
		logger = Default()
	}

	var attrs []any
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	if tabID, ok := ctx.Value(TabIDKey).(string); ok && tabID != "" {
		attrs = append(attrs, "tab_id", tabID)
	}
	if paneID, ok := ctx.Value(PaneIDKey).(string); ok && paneID != "" {
		attrs = append(attrs, "pane_id", paneID)
	}

	if len(attrs) > 0 {
		return logger.With(attrs...)
	}
	return logger
}
