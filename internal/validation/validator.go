package validation

import "github.com/rendis/rulekit/pkg/schema"

// Validator checks workflow definitions before registration and evaluation
// inputs before a run. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateInput(input any, inputSchema []byte) error
}

// KindLookup reports whether an expression kind can be compiled.
// Satisfied by *expressions.Compiler.
type KindLookup interface {
	Supports(kind schema.ExpressionKind) bool
}
