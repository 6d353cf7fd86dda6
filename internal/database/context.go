package database

import (
	"context"
	"time"
)

// ContextKey types the per-call timeout overrides.
type ContextKey string

const (
	ContextKeyQueryTimeout   ContextKey = "db_query_timeout"
	ContextKeyExecuteTimeout ContextKey = "db_execute_timeout"
)

// WithQueryTimeout overrides DB_QUERY_TIMEOUT for reads made with ctx.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ContextKeyQueryTimeout, d)
}

// WithExecuteTimeout overrides DB_EXECUTE_TIMEOUT for writes made with ctx.
func WithExecuteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ContextKeyExecuteTimeout, d)
}

// getTimeoutFromContext bounds ctx by the override stored under key, or by
// fallback when there is none. A deadline already on ctx that is sooner wins.
func getTimeoutFromContext(ctx context.Context, fallback time.Duration, key ContextKey) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d, ok := ctx.Value(key).(time.Duration); ok && d > 0 {
		fallback = d
	}
	return context.WithTimeout(ctx, fallback)
}
