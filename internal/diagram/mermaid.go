package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	model.Walk(func(_ int, n *Node) {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(n)))
	})

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n", edge.From, label, edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef passed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef faulted fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef not_evaluated fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef disabled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	model.Walk(func(_ int, n *Node) {
		if n.Outcome != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", n.ID, n.Outcome))
		}
	})

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape for its kind.
func mermaidNodeDef(n *Node) string {
	label := mermaidEscapeLabel(nodeText(n))
	switch n.Kind {
	case NodeKindWorkflow:
		return fmt.Sprintf("%s((\"%s\"))", n.ID, label)
	case NodeKindAnd, NodeKindOr:
		return fmt.Sprintf("%s{\"%s\"}", n.ID, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", n.ID, label)
	}
}

// mermaidEscapeLabel replaces the characters that end a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	return strings.NewReplacer(`"`, "#quot;", "\n", "<br/>").Replace(s)
}

// nodeText is the one-line label shared by the text renderers.
func nodeText(n *Node) string {
	label := firstLine(n.Label)
	switch n.Kind {
	case NodeKindAnd, NodeKindOr:
		return label + " (" + strings.ToUpper(string(n.Kind)) + ")"
	case NodeKindRule:
		if n.Expression != "" {
			return label + ": " + n.Expression
		}
	}
	return label
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
