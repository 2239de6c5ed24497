package schema

import "encoding/json"

// Workflow is a named, ordered set of rules evaluated together.
// Registration takes a deep copy; the registered value never changes afterwards.
type Workflow struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Rules              []Rule          `json:"rules"`
	StopOnFirstFailure bool            `json:"stop_on_first_failure,omitempty"` // sequential; later rules skipped after a failure
	InputSchema        json.RawMessage `json:"input_schema,omitempty"`          // JSON Schema checked against the bound inputs
}

// Rule is a named boolean expression plus its success/failure messaging.
// A rule carries either an Expression or nested Rules combined by Operator.
type Rule struct {
	Name           string         `json:"name"`
	Expression     string         `json:"expression,omitempty"`
	Kind           ExpressionKind `json:"kind,omitempty"` // default: predicate
	SuccessMessage string         `json:"success_message,omitempty"`
	FailureMessage string         `json:"failure_message,omitempty"`
	Operator       Operator       `json:"operator,omitempty"` // nested rules only (default: and)
	Rules          []Rule         `json:"rules,omitempty"`
	Disabled       bool           `json:"disabled,omitempty"`
}

// IsNested reports whether the rule's outcome is derived from child rules.
func (r Rule) IsNested() bool {
	return len(r.Rules) > 0
}

// ExpressionKind selects the evaluation strategy used to compile a rule expression.
type ExpressionKind string

const (
	KindPredicate ExpressionKind = "predicate"
	KindExpr      ExpressionKind = "expr"
	KindCEL       ExpressionKind = "cel"
	KindJQ        ExpressionKind = "jq"
)

// OrDefault returns KindPredicate for the zero value.
func (k ExpressionKind) OrDefault() ExpressionKind {
	if k == "" {
		return KindPredicate
	}
	return k
}

// Operator combines the outcomes of nested rules.
type Operator string

const (
	OperatorAnd Operator = "and"
	OperatorOr  Operator = "or"
)

// OrDefault returns OperatorAnd for the zero value.
func (o Operator) OrDefault() Operator {
	if o == "" {
		return OperatorAnd
	}
	return o
}

// WorkflowDocument is the JSON-serializable container used by loaders and the MCP surface.
type WorkflowDocument struct {
	Workflows []Workflow `json:"workflows"`
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	cp := w
	cp.Rules = cloneRules(w.Rules)
	if w.InputSchema != nil {
		cp.InputSchema = append(json.RawMessage(nil), w.InputSchema...)
	}
	return cp
}

func cloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = r
		out[i].Rules = cloneRules(r.Rules)
	}
	return out
}
