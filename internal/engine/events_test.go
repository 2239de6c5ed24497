package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rulekit/internal/streaming"
	"github.com/rendis/rulekit/pkg/schema"
)

func drain(ch <-chan streaming.Event) []streaming.Event {
	var out []streaming.Event
	for len(ch) > 0 {
		out = append(out, <-ch)
	}
	return out
}

func eventTypes(events []streaming.Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestEvents_RegistryChanges(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, streaming.Filter{})
	require.NoError(t, err)
	defer cancel()

	e := newTestEngine(t, WithEventHub(hub))
	wf := schema.Workflow{Name: "w", Rules: []schema.Rule{rule("a", "x == 1")}}

	require.NoError(t, e.Register(ctx, wf))
	require.NoError(t, e.Replace(ctx, wf))
	require.NoError(t, e.Unregister("w"))
	require.NoError(t, e.Replace(ctx, wf))

	events := drain(ch)
	assert.Equal(t, []string{
		streaming.EventWorkflowRegistered,
		streaming.EventWorkflowReplaced,
		streaming.EventWorkflowRemoved,
		streaming.EventWorkflowRegistered,
	}, eventTypes(events))
	for _, evt := range events {
		assert.Equal(t, "w", evt.Workflow)
	}
}

func TestEvents_EvaluationOutcome(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, streaming.Filter{
		Types: []string{streaming.EventRuleEvaluated, streaming.EventEvaluationCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	e := newTestEngine(t, WithEventHub(hub), WithParallelism(4))
	require.NoError(t, e.Register(ctx, schema.Workflow{
		Name: "w",
		Rules: []schema.Rule{
			rule("a", "x == 1"),
			rule("b", "x == 2"),
			rule("c", "x.y == 1"),
		},
	}))

	tree, err := e.EvaluateAll(ctx, "w", schema.Named("x", 1))
	require.NoError(t, err)

	events := drain(ch)
	require.Len(t, events, 4)
	assert.Equal(t, []string{
		streaming.EventRuleEvaluated,
		streaming.EventRuleEvaluated,
		streaming.EventRuleEvaluated,
		streaming.EventEvaluationCompleted,
	}, eventTypes(events))

	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, events[i].Rule)
		assert.Equal(t, tree.EvaluationID, events[i].EvaluationID)
	}
	assert.Equal(t, true, events[0].Payload.(map[string]any)["is_success"])
	assert.Equal(t, false, events[1].Payload.(map[string]any)["faulted"])
	assert.Equal(t, true, events[2].Payload.(map[string]any)["faulted"])

	summary := events[3].Payload.(map[string]any)
	assert.Equal(t, false, summary["all_succeeded"])
	assert.Equal(t, 2, summary["failed"])
	assert.Equal(t, 3, summary["rules"])
}

func TestEvents_NoHubIsSilent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Register(ctx, schema.Workflow{Name: "w", Rules: []schema.Rule{rule("a", "x == 1")}}))
	_, err := e.EvaluateAll(ctx, "w", schema.Named("x", 1))
	require.NoError(t, err)
}
