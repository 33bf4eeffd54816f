package logger

import "context"

type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	decisionIDKey contextKey = "decision_id"
)

// WithTraceID tags a context with the id that follows one evaluation or
// response through the pipeline.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithDecisionID tags a context with the decision record being processed.
func WithDecisionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, decisionIDKey, id)
}

func GetDecisionID(ctx context.Context) string {
	id, _ := ctx.Value(decisionIDKey).(string)
	return id
}
