// Package logger carries a request-scoped slog logger in a context.
package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "scrollsync-slogger"

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored by AddToContext, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
