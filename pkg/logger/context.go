package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores a logger carrying the given attributes on the context.
// Attributes accumulate when WithContext is applied to a context that already
// carries a logger.
func WithContext(ctx context.Context, attrs ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, FromContext(ctx).With(attrs...))
}

// FromContext returns the logger stored on ctx, or L() when none is present.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}
