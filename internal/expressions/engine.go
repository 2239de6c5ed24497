package expressions

import (
	"context"

	"github.com/rendis/rulekit/pkg/schema"
)

// Engine compiles expressions of one kind.
// Four implementations: predicate (built-in grammar), expr-lang, CEL and jq.
type Engine interface {
	Kind() schema.ExpressionKind
	Compile(expression string) (Program, error)
}

// Program is a compiled expression. Programs are immutable and safe for
// concurrent evaluation against different scopes.
type Program interface {
	Kind() schema.ExpressionKind
	Source() string
	// Symbols lists the root symbols the expression references, in order of
	// first appearance. Nil means the program may read the whole scope.
	Symbols() []string
	Eval(ctx context.Context, scope *Scope) (bool, error)
}
