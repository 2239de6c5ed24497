package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat selects the graphviz output encoding.
type ImageFormat string

const (
	FormatPNG ImageFormat = "png"
	FormatSVG ImageFormat = "svg"
)

// RenderImage renders a Model through graphviz and returns the encoded image.
func RenderImage(ctx context.Context, model *Model, format ImageFormat) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatPNG:
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	default:
		return nil, fmt.Errorf("diagram: unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node)
	var nodeErr error
	model.Walk(func(_ int, n *Node) {
		if nodeErr != nil {
			return
		}
		gvNode, err := graph.CreateNodeByName(n.ID)
		if err != nil {
			nodeErr = fmt.Errorf("diagram: create node %s: %w", n.ID, err)
			return
		}
		gvNode.SetLabel(nodeText(n))
		applyNodeStyle(gvNode, n)
		gvNodes[n.ID] = gvNode
	})
	if nodeErr != nil {
		return nil, nodeErr
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, err := graph.CreateEdgeByName("", fromGV, toGV)
		if err != nil {
			return nil, fmt.Errorf("diagram: create edge %s -> %s: %w", edge.From, edge.To, err)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and outcome.
func applyNodeStyle(gvNode *cgraph.Node, n *Node) {
	switch n.Kind {
	case NodeKindWorkflow:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindAnd, NodeKindOr:
		gvNode.SetShape(cgraph.DiamondShape)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}
	if n.Outcome != "" {
		applyOutcomeColor(gvNode, n.Outcome)
	}
}

func applyOutcomeColor(gvNode *cgraph.Node, o Outcome) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch o {
	case OutcomePassed:
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case OutcomeFailed:
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case OutcomeFaulted:
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case OutcomeNotEvaluated:
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	case OutcomeDisabled:
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
