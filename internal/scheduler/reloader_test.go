package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rulekit/internal/engine"
	"github.com/rendis/rulekit/internal/logging"
	"github.com/rendis/rulekit/internal/store"
	"github.com/rendis/rulekit/pkg/schema"
)

// mockRegistry records Replace and Unregister calls.
type mockRegistry struct {
	mu         sync.Mutex
	replaced   []string
	removed    []string
	registered map[string]bool
	reject     map[string]bool
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{registered: make(map[string]bool), reject: make(map[string]bool)}
}

func (m *mockRegistry) Replace(_ context.Context, wf schema.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject[wf.Name] {
		return schema.NewError(schema.ErrCodeCompile, "rejected")
	}
	m.replaced = append(m.replaced, wf.Name)
	m.registered[wf.Name] = true
	return nil
}

func (m *mockRegistry) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.registered[name] {
		return schema.NewError(schema.ErrCodeWorkflowNotFound, "not registered")
	}
	delete(m.registered, name)
	m.removed = append(m.removed, name)
	return nil
}

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func save(t *testing.T, s store.WorkflowStore, name, expression string) {
	t.Helper()
	_, err := s.SaveWorkflow(context.Background(), schema.Workflow{
		Name:  name,
		Rules: []schema.Rule{{Name: "r", Expression: expression}},
	})
	require.NoError(t, err)
}

func TestNewReloader_Schedules(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	tests := []struct {
		spec string
		want time.Time
	}{
		{"@every 30s", from.Add(30 * time.Second)},
		{"", from.Add(time.Minute)},
		{"0 * * * *", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			r, err := NewReloader(nil, nil, tt.spec, logging.Discard())
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.NextRun(from))
		})
	}

	_, err := NewReloader(nil, nil, "not a schedule", logging.Discard())
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestSync_FullLoadThenIncremental(t *testing.T) {
	s := newTestStore(t)
	reg := newMockRegistry()
	ctx := context.Background()

	save(t, s, "b", "x == 1")
	save(t, s, "a", "x == 1")

	r, err := NewReloader(s, reg, "@every 1h", logging.Discard())
	require.NoError(t, err)

	stats, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Replaced)
	assert.Equal(t, []string{"a", "b"}, reg.replaced)

	// Nothing changed: nothing applied.
	stats, err = r.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Replaced+stats.Removed+stats.Failed)

	save(t, s, "a", "x == 2")
	save(t, s, "a", "x == 3")
	require.NoError(t, s.DeleteWorkflow(ctx, "b"))
	save(t, s, "c", "x == 1")

	reg.replaced = nil
	stats, err = r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Replaced)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, []string{"a", "c"}, reg.replaced)
	assert.Equal(t, []string{"b"}, reg.removed)

	latest, err := s.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, stats.Cursor)
}

func TestSync_SaveThenDeleteCollapsesToRemoval(t *testing.T) {
	s := newTestStore(t)
	reg := newMockRegistry()
	ctx := context.Background()

	r, err := NewReloader(s, reg, "", logging.Discard())
	require.NoError(t, err)
	_, err = r.Sync(ctx)
	require.NoError(t, err)

	save(t, s, "short-lived", "x == 1")
	require.NoError(t, s.DeleteWorkflow(ctx, "short-lived"))

	stats, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, reg.replaced)
	// Never registered, so nothing to remove either.
	assert.Zero(t, stats.Removed)
	assert.Zero(t, stats.Failed)
}

func TestSync_RejectedDefinitionIsCounted(t *testing.T) {
	s := newTestStore(t)
	reg := newMockRegistry()
	reg.reject["bad"] = true

	save(t, s, "bad", "x ==")
	save(t, s, "good", "x == 1")

	r, err := NewReloader(s, reg, "", logging.Discard())
	require.NoError(t, err)

	stats, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Replaced)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"good"}, reg.replaced)
}

func TestSync_DrivesRealEngine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eng, err := engine.New(engine.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	save(t, s, "limits", "amount <= 100")

	r, err := NewReloader(s, eng, "", logging.Discard())
	require.NoError(t, err)
	_, err = r.Sync(ctx)
	require.NoError(t, err)

	tree, err := eng.EvaluateAll(ctx, "limits", schema.Named("amount", 50))
	require.NoError(t, err)
	assert.True(t, tree.AllSucceeded())

	save(t, s, "limits", "amount <= 10")
	_, err = r.Sync(ctx)
	require.NoError(t, err)
	tree, err = eng.EvaluateAll(ctx, "limits", schema.Named("amount", 50))
	require.NoError(t, err)
	assert.False(t, tree.AllSucceeded())

	require.NoError(t, s.DeleteWorkflow(ctx, "limits"))
	_, err = r.Sync(ctx)
	require.NoError(t, err)
	_, err = eng.EvaluateAll(ctx, "limits", schema.Named("amount", 50))
	assert.True(t, schema.IsCode(err, schema.ErrCodeWorkflowNotFound))
}

func TestStartStop(t *testing.T) {
	s := newTestStore(t)
	reg := newMockRegistry()
	save(t, s, "a", "x == 1")

	r, err := NewReloader(s, reg, "@every 1h", logging.Discard())
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	// The first pass runs before Start returns.
	assert.Equal(t, []string{"a"}, reg.replaced)
	assert.Error(t, r.Start(context.Background()))

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}
