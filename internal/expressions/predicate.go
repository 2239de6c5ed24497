package expressions

import (
	"context"

	"github.com/rendis/rulekit/pkg/schema"
)

// PredicateEngine compiles the built-in boolean grammar: comparisons over
// member paths combined with AND, OR and NOT. Missing fields evaluate as
// Absent, which makes every comparison involving them false.
type PredicateEngine struct{}

// NewPredicateEngine creates the predicate engine.
func NewPredicateEngine() *PredicateEngine {
	return &PredicateEngine{}
}

// Kind returns the engine identifier.
func (e *PredicateEngine) Kind() schema.ExpressionKind {
	return schema.KindPredicate
}

// Compile parses expression into an evaluable tree.
func (e *PredicateEngine) Compile(expression string) (Program, error) {
	root, symbols, err := parsePredicate(expression)
	if err != nil {
		return nil, err
	}
	return &predicateProgram{source: expression, root: root, symbols: symbols}, nil
}

type predicateProgram struct {
	source  string
	root    node
	symbols []string
}

func (p *predicateProgram) Kind() schema.ExpressionKind { return schema.KindPredicate }
func (p *predicateProgram) Source() string              { return p.source }

func (p *predicateProgram) Symbols() []string {
	out := make([]string, len(p.symbols))
	copy(out, p.symbols)
	return out
}

// String renders the parsed tree with explicit grouping.
func (p *predicateProgram) String() string { return p.root.String() }

func (p *predicateProgram) Eval(ctx context.Context, scope *Scope) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, schema.NewError(schema.ErrCodeCancelled, "evaluation cancelled").WithCause(err)
	}
	return truth(p.root, scope)
}

var _ Engine = (*PredicateEngine)(nil)
