package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	exprparser "github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/rulekit/pkg/schema"
)

// ExprEngine compiles expr-lang/expr expressions for rules that need more than
// the predicate grammar: array operations (filter, map, count, any, all),
// string functions, nil coalescing (??) and optional chaining (?.).
// Scope values are passed natively, so struct fields are read by their Go names.
type ExprEngine struct{}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

// Kind returns the engine identifier.
func (e *ExprEngine) Kind() schema.ExpressionKind {
	return schema.KindExpr
}

// Compile parses expression to collect its free identifiers, then compiles it
// without a typed environment so any input shape can be supplied at run time.
func (e *ExprEngine) Compile(expression string) (Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeCompile, "empty expr expression")
	}

	tree, err := exprparser.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCompile,
			"expr parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	collector := &identCollector{seen: make(map[string]struct{})}
	ast.Walk(&tree.Node, collector)

	prg, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCompile,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return &exprProgram{source: expression, program: prg, symbols: collector.names}, nil
}

type exprProgram struct {
	source  string
	program *vm.Program
	symbols []string
}

func (p *exprProgram) Kind() schema.ExpressionKind { return schema.KindExpr }
func (p *exprProgram) Source() string              { return p.source }
func (p *exprProgram) Symbols() []string           { return append([]string(nil), p.symbols...) }

func (p *exprProgram) Eval(ctx context.Context, scope *Scope) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, schema.NewError(schema.ErrCodeCancelled, "evaluation cancelled").WithCause(err)
	}

	out, err := vm.Run(p.program, scope.Values(p.symbols))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", p.source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": p.source})
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"expr %q returned %T, not a boolean", p.source, out)
	}
	return b, nil
}

// identCollector gathers identifier names in order of first appearance.
type identCollector struct {
	names []string
	seen  map[string]struct{}
}

func (c *identCollector) Visit(node *ast.Node) {
	ident, ok := (*node).(*ast.IdentifierNode)
	if !ok {
		return
	}
	if _, dup := c.seen[ident.Value]; dup {
		return
	}
	c.seen[ident.Value] = struct{}{}
	c.names = append(c.names, ident.Value)
}

var _ Engine = (*ExprEngine)(nil)
