package expressions

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/rendis/rulekit/pkg/schema"
)

// node is an element of a compiled predicate.
// Boolean nodes (connectives, comparisons) return a bool from value.
type node interface {
	value(s *Scope) (any, error)
	String() string
}

type orNode struct{ left, right node }

func (n *orNode) value(s *Scope) (any, error) {
	l, err := truth(n.left, s)
	if err != nil || l {
		return l, err
	}
	return truth(n.right, s)
}

func (n *orNode) String() string { return "(" + n.left.String() + " OR " + n.right.String() + ")" }

type andNode struct{ left, right node }

func (n *andNode) value(s *Scope) (any, error) {
	l, err := truth(n.left, s)
	if err != nil || !l {
		return false, err
	}
	return truth(n.right, s)
}

func (n *andNode) String() string { return "(" + n.left.String() + " AND " + n.right.String() + ")" }

type notNode struct{ operand node }

func (n *notNode) value(s *Scope) (any, error) {
	v, err := truth(n.operand, s)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (n *notNode) String() string { return "NOT " + n.operand.String() }

type cmpNode struct {
	op          cmpOp
	left, right node
}

func (n *cmpNode) value(s *Scope) (any, error) {
	l, err := n.left.value(s)
	if err != nil {
		return false, err
	}
	r, err := n.right.value(s)
	if err != nil {
		return false, err
	}
	return compare(n.op, l, r)
}

func (n *cmpNode) String() string {
	return n.left.String() + " " + n.op.String() + " " + n.right.String()
}

// pathNode is a member-access path resolved against the scope at evaluation time.
type pathNode struct{ segments []string }

func (n *pathNode) value(s *Scope) (any, error) {
	return s.Resolve(n.segments)
}

func (n *pathNode) String() string { return strings.Join(n.segments, ".") }

type literalNode struct{ val any }

func (n *literalNode) value(*Scope) (any, error) { return n.val, nil }

func (n *literalNode) String() string {
	switch v := n.val.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return "?"
}

// truth evaluates n in a boolean position. Absent values are false.
func truth(n node, s *Scope) (bool, error) {
	v, err := n.value(s)
	if err != nil {
		return false, err
	}
	if IsAbsent(v) {
		return false, nil
	}
	v = indirect(v)
	if v == nil {
		return false, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Bool {
		return rv.Bool(), nil
	}
	return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"%s is %T, not a boolean", n.String(), v)
}
