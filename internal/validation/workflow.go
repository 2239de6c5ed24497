package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/rulekit/pkg/schema"
)

// WorkflowValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (rule names, rule bodies, expression kinds, input schema)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	kinds      KindLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip expression kind checks.
func NewWorkflowValidator(lookup KindLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		kinds:      lookup,
	}, nil
}

// Validate runs the full pipeline on one workflow and returns an aggregated result.
// Structural errors short-circuit: the semantic stage is skipped.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := structuralResult(wv.jsonSchema.ValidateWorkflow(wf))
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(wf, wv.kinds))

	if len(wf.InputSchema) > 0 {
		if _, err := wv.jsonSchema.CompileSchema(wf.InputSchema); err != nil {
			result.AddError("/input_schema", schema.ErrCodeValidation, err.Error())
		}
	}

	return result
}

// ValidateAll validates a batch of workflows, including name uniqueness
// within the batch. Issue paths are prefixed with the workflow's position.
func (wv *WorkflowValidator) ValidateAll(wfs []schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	seen := make(map[string]int, len(wfs))

	for i := range wfs {
		prefix := fmt.Sprintf("/workflows/%d", i)
		if first, dup := seen[wfs[i].Name]; dup && wfs[i].Name != "" {
			result.AddError(prefix+"/name", schema.ErrCodeDuplicateWorkflow,
				fmt.Sprintf("duplicate workflow name %q (first declared at /workflows/%d)", wfs[i].Name, first))
		} else {
			seen[wfs[i].Name] = i
		}

		sub := wv.Validate(&wfs[i])
		for _, issue := range sub.Errors {
			result.AddError(prefix+issue.Path, issue.Code, issue.Message)
		}
		for _, issue := range sub.Warnings {
			result.AddWarning(prefix+issue.Path, issue.Code, issue.Message)
		}
	}

	return result
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

// DecodeDocument validates raw document JSON and decodes its workflows.
// The raw form may be a document ({"workflows": [...]}) or a single workflow
// object.
func (wv *WorkflowValidator) DecodeDocument(raw []byte) ([]schema.Workflow, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow document is not a JSON object").WithCause(err)
	}

	if _, isDoc := probe["workflows"]; !isDoc {
		// Wrap a bare workflow so unknown fields are caught by the document schema.
		wrapped := make([]byte, 0, len(raw)+16)
		wrapped = append(wrapped, `{"workflows":[`...)
		wrapped = append(wrapped, raw...)
		raw = append(wrapped, `]}`...)
	}

	if err := wv.jsonSchema.ValidateDocument(raw); err != nil {
		return nil, err
	}
	var doc schema.WorkflowDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode workflow document").WithCause(err)
	}
	if err := wv.ValidateAll(doc.Workflows).ToError(); err != nil {
		return nil, err
	}
	return doc.Workflows, nil
}

// structuralResult converts a JSON Schema error into a ValidationResult.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	ee, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if ee.Details != nil {
		if violations, ok := ee.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, ee.Message)
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
