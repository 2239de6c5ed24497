package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/rendis/rulekit/pkg/schema"
)

// DefaultCELCostLimit bounds the work of a single CEL evaluation.
const DefaultCELCostLimit = 1_000_000

// CELEngine compiles Common Expression Language rules.
// Expressions are parsed but not type-checked: inputs have no declared shape,
// so identifiers are resolved dynamically against the scope's plain view.
type CELEngine struct {
	env       *cel.Env
	costLimit uint64
}

// NewCELEngine creates a new CEL expression engine with the standard library
// and macros (has, all, exists, map, filter).
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, costLimit: DefaultCELCostLimit}, nil
}

// Kind returns the engine identifier.
func (e *CELEngine) Kind() schema.ExpressionKind {
	return schema.KindCEL
}

// Compile parses expression and plans a program for it.
func (e *CELEngine) Compile(expression string) (Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeCompile, "empty CEL expression")
	}

	parsed, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCompile,
			"CEL parse error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(parsed, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCompile,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return &celProgram{source: expression, program: prg}, nil
}

type celProgram struct {
	source  string
	program cel.Program
}

func (p *celProgram) Kind() schema.ExpressionKind { return schema.KindCEL }
func (p *celProgram) Source() string              { return p.source }
func (p *celProgram) Symbols() []string           { return nil }

func (p *celProgram) Eval(ctx context.Context, scope *Scope) (bool, error) {
	plain, err := scope.Plain()
	if err != nil {
		return false, err
	}

	out, _, err := p.program.ContextEval(ctx, plain)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", p.source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": p.source})
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"CEL %q returned %s, not a boolean", p.source, out.Type().TypeName())
	}
	return b, nil
}

var _ Engine = (*CELEngine)(nil)
