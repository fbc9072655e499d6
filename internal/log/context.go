package log

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const correlationKey ctxKey = iota

// ContextWithCorrelationID attaches a correlation identifier to ctx,
// generating one when id is empty.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext extracts the correlation identifier, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with the context's
// correlation identifier when present.
func WithContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return l.With().Str("correlation_id", id).Logger()
	}
	return l
}

// FromContext returns a logger enriched with the context's correlation
// identifier when present.
func FromContext(ctx context.Context) zerolog.Logger {
	return WithContext(ctx, logger())
}
