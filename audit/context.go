package audit

import "context"

type ctxKeyTraceID struct{}

// WithTraceID stores a trace ID in the context so engine-level audit
// entries line up with the HTTP request that caused them.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID{}, traceID)
}

// TraceID extracts the trace ID from a context, or "" if none was set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
