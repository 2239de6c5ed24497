package validation

import (
	"sync"
	"testing"

	"github.com/rendis/rulekit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.documentSchema)
	assert.NotNil(t, v.workflowSchema)
}

// --- ValidateDocument ---

func TestValidateDocument(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"minimal", `{"workflows":[]}`, true},
		{"full", `{"workflows":[{"name":"rest","description":"d","stop_on_first_failure":true,
			"input_schema":{"type":"object"},
			"rules":[{"name":"r1","expression":"a > 1","kind":"predicate","success_message":"ok","failure_message":"ko"},
			         {"name":"r2","operator":"or","rules":[{"name":"c1","expression":"b","disabled":true}]}]}]}`, true},
		{"empty", ``, false},
		{"not json", `{"workflows":`, false},
		{"missing workflows", `{}`, false},
		{"unknown top-level field", `{"workflows":[],"extra":1}`, false},
		{"workflow without name", `{"workflows":[{"rules":[]}]}`, false},
		{"empty rule name", `{"workflows":[{"name":"w","rules":[{"name":"","expression":"a"}]}]}`, false},
		{"bad operator", `{"workflows":[{"name":"w","rules":[{"name":"r","operator":"xor","rules":[]}]}]}`, false},
		{"unknown rule field", `{"workflows":[{"name":"w","rules":[{"name":"r","expr":"a"}]}]}`, false},
		{"expression not string", `{"workflows":[{"name":"w","rules":[{"name":"r","expression":42}]}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument([]byte(tt.doc))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidateWorkflow_Struct(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateWorkflow(&schema.Workflow{Name: "w"}))
	assert.NoError(t, v.ValidateWorkflow(&schema.Workflow{
		Name:  "w",
		Rules: []schema.Rule{{Name: "r", Expression: "a == 1"}},
	}))

	err = v.ValidateWorkflow(&schema.Workflow{Name: ""})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = v.ValidateWorkflow(nil)
	require.Error(t, err)
}

// --- ValidateInput ---

func TestValidateInput_EmptySchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateInput(map[string]any{"x": 1}, nil))
}

func TestValidateInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["previousTask"],
		"properties": {
			"previousTask": {
				"type": "object",
				"required": ["ResourceID"],
				"properties": {"ResourceID": {"type": "string", "minLength": 1}}
			},
			"sumaDescansos": {"type": "integer", "minimum": 0}
		}
	}`)

	type task struct{ ResourceID string }

	tests := []struct {
		name  string
		input any
		valid bool
	}{
		{"valid map", map[string]any{"previousTask": map[string]any{"ResourceID": "R1"}}, true},
		{"valid struct", map[string]any{"previousTask": task{ResourceID: "R1"}, "sumaDescansos": 4200}, true},
		{"missing required", map[string]any{"sumaDescansos": 1}, false},
		{"empty id", map[string]any{"previousTask": task{}}, false},
		{"negative", map[string]any{"previousTask": task{ResourceID: "R1"}, "sumaDescansos": -1}, false},
		{"wrong type", map[string]any{"previousTask": "R1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInput(tt.input, inputSchema)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidateInput_MultipleErrors(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"integer"}}}`)
	err = v.ValidateInput(map[string]any{"a": 1, "b": "x"}, inputSchema)
	require.Error(t, err)

	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Contains(t, ee.Message, "2 errors")
	assert.Len(t, ee.Details["violations"], 2)
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(map[string]any{}, []byte(`{"type": 12}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestValidateInput_SchemaCaching(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type":"object"}`)
	require.NoError(t, v.ValidateInput(map[string]any{}, s))
	require.NoError(t, v.ValidateInput(map[string]any{}, s))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateInput_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	s := []byte(`{"type":"object","required":["n"],"properties":{"n":{"type":"integer"}}}`)
	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = v.ValidateInput(map[string]any{"n": i}, s)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
