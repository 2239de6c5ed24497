package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", EvaluationID(ctx))
	assert.Equal(t, "", Workflow(ctx))
	assert.Equal(t, "", Rule(ctx))

	ctx = WithEvaluationID(ctx, "eval-123")
	ctx = WithWorkflow(ctx, "rest-periods")
	ctx = WithRule(ctx, "minimum-rest")

	assert.Equal(t, "eval-123", EvaluationID(ctx))
	assert.Equal(t, "rest-periods", Workflow(ctx))
	assert.Equal(t, "minimum-rest", Rule(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "eval-abc", "tasks")
	ctx = WithRule(ctx, "same-resource")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "evaluation_id=eval-abc")
	assert.Contains(t, output, "workflow=tasks")
	assert.Contains(t, output, "rule=same-resource")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only the workflow is set; the other keys must not appear.
	ctx := WithWorkflow(context.Background(), "wf-only")
	LogWith(ctx, logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "workflow=wf-only")
	assert.NotContains(t, output, "evaluation_id")
	assert.NotContains(t, output, "rule=")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithRule(WithIDs(context.Background(), "eval-auto", "wf-auto"), "rule-auto")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"evaluation_id":"eval-auto"`)
	assert.Contains(t, output, `"workflow":"wf-auto"`)
	assert.Contains(t, output, `"rule":"rule-auto"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "evaluation_id")
	assert.NotContains(t, output, "workflow")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	ctx := WithWorkflow(context.Background(), "wf-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"workflow":"wf-attr"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("engine"))

	ctx := WithWorkflow(context.Background(), "wf-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "wf-grp")
	assert.Contains(t, output, "grouped")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}
