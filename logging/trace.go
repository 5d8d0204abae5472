package logging

import (
	"context"

	"go.viam.com/utils"
)

type traceKeyType int

const traceKey = traceKeyType(iota)

// EnableTracing returns a context whose CDebugw calls are logged at any level and tagged with
// traceID. An empty traceID gets a random one.
func EnableTracing(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, traceKey, traceID)
}

// TraceID returns the trace attached by EnableTracing, or the empty string.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey).(string); ok {
		return id
	}
	return ""
}
