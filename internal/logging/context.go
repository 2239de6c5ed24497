package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	evaluationIDKey ctxKey = iota
	workflowKey
	ruleKey
)

// WithEvaluationID returns a context with the evaluation ID set.
func WithEvaluationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, evaluationIDKey, id)
}

// WithWorkflow returns a context with the workflow name set.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowKey, name)
}

// WithRule returns a context with the rule name set.
func WithRule(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ruleKey, name)
}

// EvaluationID extracts the evaluation ID from the context, or "" if absent.
func EvaluationID(ctx context.Context) string {
	v, _ := ctx.Value(evaluationIDKey).(string)
	return v
}

// Workflow extracts the workflow name from the context, or "" if absent.
func Workflow(ctx context.Context) string {
	v, _ := ctx.Value(workflowKey).(string)
	return v
}

// Rule extracts the rule name from the context, or "" if absent.
func Rule(ctx context.Context) string {
	v, _ := ctx.Value(ruleKey).(string)
	return v
}

// WithIDs sets the evaluation ID and workflow name on the context at once.
func WithIDs(ctx context.Context, evaluationID, workflow string) context.Context {
	ctx = WithEvaluationID(ctx, evaluationID)
	ctx = WithWorkflow(ctx, workflow)
	return ctx
}

// attrs returns the non-empty correlation attributes carried by ctx.
func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := EvaluationID(ctx); v != "" {
		out = append(out, slog.String("evaluation_id", v))
	}
	if v := Workflow(ctx); v != "" {
		out = append(out, slog.String("workflow", v))
	}
	if v := Rule(ctx); v != "" {
		out = append(out, slog.String("rule", v))
	}
	return out
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
