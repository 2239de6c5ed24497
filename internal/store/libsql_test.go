package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/rulekit/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleWorkflow(name, expression string) schema.Workflow {
	return schema.Workflow{
		Name:        name,
		Description: "sample",
		Rules: []schema.Rule{{
			Name:           "r",
			Expression:     expression,
			FailureMessage: "failed for $(id)",
		}},
		InputSchema: []byte(`{"type":"object"}`),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.SaveWorkflow(ctx, sampleWorkflow("payments", "amount > 10"))
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	got, err := s.GetWorkflow(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, "payments", got.Name)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "sample", got.Definition.Description)
	require.Len(t, got.Definition.Rules, 1)
	assert.Equal(t, "amount > 10", got.Definition.Rules[0].Expression)
	assert.Equal(t, "failed for $(id)", got.Definition.Rules[0].FailureMessage)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Definition.InputSchema))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveWorkflow_IncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SaveWorkflow(ctx, sampleWorkflow("w", "a == 1"))
	require.NoError(t, err)
	second, err := s.SaveWorkflow(ctx, sampleWorkflow("w", "a == 2"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)

	got, err := s.GetWorkflow(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "a == 2", got.Definition.Rules[0].Expression)
}

func TestSaveWorkflow_RequiresName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveWorkflow(context.Background(), schema.Workflow{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestListWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"billing.refunds", "billing.charges", "shipping"} {
		_, err := s.SaveWorkflow(ctx, sampleWorkflow(name, "a == 1"))
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter WorkflowFilter
		want   []string
	}{
		{"all sorted by name", WorkflowFilter{}, []string{"billing.charges", "billing.refunds", "shipping"}},
		{"prefix", WorkflowFilter{NamePrefix: "billing."}, []string{"billing.charges", "billing.refunds"}},
		{"limit", WorkflowFilter{Limit: 1}, []string{"billing.charges"}},
		{"no match", WorkflowFilter{NamePrefix: "zzz"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wfs, err := s.ListWorkflows(ctx, tt.filter)
			require.NoError(t, err)
			var names []string
			for _, wf := range wfs {
				names = append(names, wf.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveWorkflow(ctx, sampleWorkflow("w", "a == 1"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteWorkflow(ctx, "w"))

	_, err = s.GetWorkflow(ctx, "w")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(s.DeleteWorkflow(ctx, "w"), schema.ErrCodeNotFound))
}

func TestSaveAfterDelete_RestartsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveWorkflow(ctx, sampleWorkflow("w", "a == 1"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteWorkflow(ctx, "w"))

	saved, err := s.SaveWorkflow(ctx, sampleWorkflow("w", "a == 1"))
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
}
