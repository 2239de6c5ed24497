package schema

// Result is the outcome of evaluating one rule once.
type Result struct {
	RuleName      string         `json:"rule_name"`
	IsSuccess     bool           `json:"is_success"`
	Message       string         `json:"message,omitempty"`
	ExceptionInfo string         `json:"exception_info,omitempty"` // set only when evaluation itself faulted
	Expression    string         `json:"expression,omitempty"`
	Kind          ExpressionKind `json:"kind,omitempty"`
	Children      []Result       `json:"children,omitempty"`

	// Err is the typed fault behind ExceptionInfo.
	Err error `json:"-"`
}

// Faulted reports whether the rule could not be evaluated, as opposed to
// evaluating to false.
func (r Result) Faulted() bool {
	return r.Err != nil || r.ExceptionInfo != ""
}

// ResultTree holds the ordered results of one evaluation call.
type ResultTree struct {
	EvaluationID string   `json:"evaluation_id"`
	Workflow     string   `json:"workflow"`
	Results      []Result `json:"results"`
}

// AllSucceeded reports whether every top-level result succeeded.
// An empty tree is vacuously successful.
func (t *ResultTree) AllSucceeded() bool {
	if t == nil {
		return true
	}
	for _, r := range t.Results {
		if !r.IsSuccess {
			return false
		}
	}
	return true
}

// ForEachSuccess calls fn once per successful top-level result, in rule order.
func (t *ResultTree) ForEachSuccess(fn func(ruleName, message string)) {
	if t == nil {
		return
	}
	for _, r := range t.Results {
		if r.IsSuccess {
			fn(r.RuleName, r.Message)
		}
	}
}

// ForEachFailure calls fn once per failed top-level result, in rule order.
func (t *ResultTree) ForEachFailure(fn func(ruleName, message string)) {
	if t == nil {
		return
	}
	for _, r := range t.Results {
		if !r.IsSuccess {
			fn(r.RuleName, r.Message)
		}
	}
}

// Failures returns copies of the failed top-level results.
func (t *ResultTree) Failures() []Result {
	if t == nil {
		return nil
	}
	var out []Result
	for _, r := range t.Results {
		if !r.IsSuccess {
			out = append(out, r)
		}
	}
	return out
}

// Walk visits every result, nested ones included, in pre-order.
func (t *ResultTree) Walk(fn func(depth int, r Result)) {
	if t == nil {
		return
	}
	var visit func(depth int, rs []Result)
	visit = func(depth int, rs []Result) {
		for _, r := range rs {
			fn(depth, r)
			visit(depth+1, r.Children)
		}
	}
	visit(0, t.Results)
}
