package diagram

import (
	"strconv"

	"github.com/rendis/rulekit/pkg/schema"
)

// RootID is the ID of the workflow node every model starts from.
const RootID = "__workflow__"

// Build constructs a Model from a workflow definition. When tree is non-nil
// each node carries the outcome of the matching result; rules with no result
// are marked not evaluated.
func Build(wf schema.Workflow, tree *schema.ResultTree) *Model {
	root := &Node{ID: RootID, Label: wf.Name, Kind: NodeKindWorkflow}
	if wf.Description != "" {
		root.Label += "\n" + wf.Description
	}

	var results []schema.Result
	if tree != nil {
		results = tree.Results
	}
	root.Children = buildNodes("r", wf.Rules, results, tree != nil)

	m := &Model{Title: wf.Name, Root: root, Chained: wf.StopOnFirstFailure}
	m.Edges = buildEdges(root, wf.StopOnFirstFailure)
	return m
}

func buildNodes(prefix string, rules []schema.Rule, results []schema.Result, overlay bool) []*Node {
	nodes := make([]*Node, 0, len(rules))
	for i, r := range rules {
		n := &Node{
			ID:         prefix + strconv.Itoa(i+1),
			Label:      r.Name,
			Kind:       ruleKind(r),
			Expression: r.Expression,
		}
		res, found := findResult(results, r.Name)
		var childResults []schema.Result
		if found {
			childResults = res.Children
		}
		if r.IsNested() {
			n.Children = buildNodes(n.ID+"_", r.Rules, childResults, overlay)
		}
		if overlay {
			overlayOutcome(n, r, res, found)
		} else if r.Disabled {
			n.Outcome = OutcomeDisabled
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func ruleKind(r schema.Rule) NodeKind {
	if !r.IsNested() {
		return NodeKindRule
	}
	if r.Operator.OrDefault() == schema.OperatorOr {
		return NodeKindOr
	}
	return NodeKindAnd
}

func overlayOutcome(n *Node, r schema.Rule, res schema.Result, found bool) {
	switch {
	case r.Disabled:
		n.Outcome = OutcomeDisabled
	case !found:
		n.Outcome = OutcomeNotEvaluated
	case res.Faulted():
		n.Outcome = OutcomeFaulted
		n.Message = res.Message
	case res.IsSuccess:
		n.Outcome = OutcomePassed
		n.Message = res.Message
	default:
		n.Outcome = OutcomeFailed
		n.Message = res.Message
	}
}

func findResult(results []schema.Result, name string) (schema.Result, bool) {
	for _, r := range results {
		if r.RuleName == name {
			return r, true
		}
	}
	return schema.Result{}, false
}

// buildEdges links every group to its children. Top-level rules fan out from
// the workflow node, or form a chain when evaluation stops at the first failure.
func buildEdges(root *Node, chained bool) []Edge {
	var edges []Edge
	prev := root.ID
	for _, c := range root.Children {
		if chained {
			label := ""
			if prev != root.ID {
				label = "pass"
			}
			edges = append(edges, Edge{From: prev, To: c.ID, Label: label})
			prev = c.ID
		} else {
			edges = append(edges, Edge{From: root.ID, To: c.ID})
		}
		edges = appendGroupEdges(edges, c)
	}
	return edges
}

func appendGroupEdges(edges []Edge, n *Node) []Edge {
	for _, c := range n.Children {
		edges = append(edges, Edge{From: n.ID, To: c.ID, Label: string(n.Kind)})
		edges = appendGroupEdges(edges, c)
	}
	return edges
}
