package diagram

import (
	"fmt"
	"strings"
)

// outcomeTag returns a short ASCII indicator for an outcome.
func outcomeTag(o Outcome) string {
	switch o {
	case OutcomePassed:
		return "[OK]"
	case OutcomeFailed:
		return "[FAIL]"
	case OutcomeFaulted:
		return "[FAULT]"
	case OutcomeDisabled:
		return "[OFF]"
	case OutcomeNotEvaluated:
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as an indented tree using box-drawing characters.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}
	if model.Root == nil {
		return b.String()
	}

	b.WriteString(firstLine(model.Root.Label))
	if model.Chained {
		b.WriteString(" (stops at first failure)")
	}
	b.WriteByte('\n')
	for i, c := range model.Root.Children {
		renderBranch(&b, c, "", i == len(model.Root.Children)-1)
	}
	return b.String()
}

func renderBranch(b *strings.Builder, n *Node, prefix string, last bool) {
	connector, childPrefix := "├── ", "│   "
	if last {
		connector, childPrefix = "└── ", "    "
	}

	b.WriteString(prefix + connector + nodeText(n))
	if tag := outcomeTag(n.Outcome); tag != "" {
		b.WriteString(" " + tag)
	}
	if n.Message != "" {
		b.WriteString(" " + firstLine(n.Message))
	}
	b.WriteByte('\n')

	for i, c := range n.Children {
		renderBranch(b, c, prefix+childPrefix, i == len(n.Children)-1)
	}
}
