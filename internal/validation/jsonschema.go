package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/rulekit/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	documentSchemaURL = "https://rulekit.dev/schemas/workflows.json"
	workflowSchemaURL = "https://rulekit.dev/schemas/workflow.json"
)

// documentSchemaJSON is the JSON Schema for workflow documents.
// Embedded as a constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://rulekit.dev/schemas/workflows.json",
  "type": "object",
  "required": ["workflows"],
  "properties": {
    "workflows": {
      "type": "array",
      "items": { "$ref": "#/$defs/workflow" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "workflow": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "description": { "type": "string" },
        "rules": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/rule" }
        },
        "stop_on_first_failure": { "type": "boolean" },
        "input_schema": { "type": ["object", "boolean"] }
      },
      "additionalProperties": false
    },
    "rule": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "expression": { "type": "string" },
        "kind": { "type": "string", "minLength": 1 },
        "success_message": { "type": "string" },
        "failure_message": { "type": "string" },
        "operator": { "type": "string", "enum": ["and", "or"] },
        "rules": {
          "type": "array",
          "items": { "$ref": "#/$defs/rule" }
        },
        "disabled": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// workflowSchemaJSON validates a single workflow against the document's definition.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://rulekit.dev/schemas/workflow.json",
  "$ref": "https://rulekit.dev/schemas/workflows.json#/$defs/workflow"
}`

// JSONSchemaValidator validates workflow documents and evaluation inputs
// using JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema
	workflowSchema *jsonschema.Schema

	// mu guards the cache of compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the document schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, src := range map[string]string{
		documentSchemaURL: documentSchemaJSON,
		workflowSchemaURL: workflowSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	docSchema, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		documentSchema: docSchema,
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates raw workflow document JSON.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is not valid JSON").WithCause(err)
	}
	if err := v.documentSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// ValidateWorkflow validates the structure of a single workflow.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	doc, err := toJSONValue(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.CompileSchema(inputSchema)
	if err != nil {
		return err
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// CompileSchema returns the cached compiled form of an input schema,
// compiling it on first use.
func (v *JSONSchemaValidator) CompileSchema(schemaBytes []byte) (*jsonschema.Schema, error) {
	compiled, err := v.getOrCompile(schemaBytes)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid input schema: %s", err.Error()).WithCause(err)
	}
	return compiled, nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("rulekit://input-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// listing every leaf violation with its instance location.
func toEngineError(err error) *schema.EngineError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
