package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindWorkflow NodeKind = "workflow"
	NodeKindRule     NodeKind = "rule"
	NodeKindAnd      NodeKind = "and"
	NodeKindOr       NodeKind = "or"
)

// Outcome is the evaluation state painted onto a node.
type Outcome string

const (
	OutcomePassed       Outcome = "passed"
	OutcomeFailed       Outcome = "failed"
	OutcomeFaulted      Outcome = "faulted"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeNotEvaluated Outcome = "not_evaluated"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title   string
	Root    *Node
	Edges   []Edge
	Chained bool // top-level rules run in order and stop at the first failure
}

// Node is one rule, a nested rule group, or the workflow root.
type Node struct {
	ID         string
	Label      string
	Kind       NodeKind
	Expression string
	Outcome    Outcome // empty when no results were overlaid
	Message    string
	Children   []*Node
}

// Edge connects a parent to a child, or one rule to the next when the
// workflow stops on its first failure.
type Edge struct {
	From  string
	To    string
	Label string
}

// Walk visits the tree in pre-order.
func (m *Model) Walk(fn func(depth int, n *Node)) {
	var visit func(depth int, n *Node)
	visit = func(depth int, n *Node) {
		fn(depth, n)
		for _, c := range n.Children {
			visit(depth+1, c)
		}
	}
	if m.Root != nil {
		visit(0, m.Root)
	}
}
