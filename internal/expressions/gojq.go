package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/rulekit/pkg/schema"
)

// GoJQEngine compiles jq queries. The query runs with the scope's plain view
// as its input document; the first output decides the rule using jq
// truthiness (false and null fail, anything else passes). A query with no
// output fails the rule.
type GoJQEngine struct{}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{}
}

// Kind returns the engine identifier.
func (e *GoJQEngine) Kind() schema.ExpressionKind {
	return schema.KindJQ
}

// Compile parses and compiles a jq query.
func (e *GoJQEngine) Compile(expression string) (Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeCompile, "empty jq expression")
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCompile,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCompile,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return &jqProgram{source: expression, code: code}, nil
}

type jqProgram struct {
	source string
	code   *gojq.Code
}

func (p *jqProgram) Kind() schema.ExpressionKind { return schema.KindJQ }
func (p *jqProgram) Source() string              { return p.source }
func (p *jqProgram) Symbols() []string           { return nil }

func (p *jqProgram) Eval(ctx context.Context, scope *Scope) (bool, error) {
	plain, err := scope.Plain()
	if err != nil {
		return false, err
	}

	iter := p.code.RunWithContext(ctx, plain)
	val, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := val.(error); isErr {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, schema.NewError(schema.ErrCodeCancelled, "evaluation cancelled").WithCause(ctxErr)
		}
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"jq evaluation failed for %q: %s", p.source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": p.source})
	}
	switch v := val.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return true, nil
	}
}

var _ Engine = (*GoJQEngine)(nil)
