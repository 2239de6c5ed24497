package expressions

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/rendis/rulekit/pkg/schema"
)

// absent marks a path whose leaf field does not exist on the input object.
// It is distinct from nil: a field that exists and holds nil is not absent.
type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent is the value returned by Scope.Resolve for missing fields.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

type cmpOp int

const (
	opEq cmpOp = iota
	opNeq
	opGt
	opGte
	opLt
	opLte
)

var cmpOpNames = [...]string{"==", "!=", ">", ">=", "<", "<="}

func (o cmpOp) String() string { return cmpOpNames[o] }

func (o cmpOp) ordering() bool { return o >= opGt }

var (
	timeType     = reflect.TypeOf(time.Time{})
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// compare applies op to two resolved values.
// Any comparison against an absent operand is false and never an error.
func compare(op cmpOp, left, right any) (bool, error) {
	if IsAbsent(left) || IsAbsent(right) {
		return false, nil
	}
	left, right = indirect(left), indirect(right)

	if left == nil || right == nil {
		switch op {
		case opEq:
			return left == nil && right == nil, nil
		case opNeq:
			return !(left == nil && right == nil), nil
		default:
			// Lifted ordering over null is false, as with nullable numerics.
			return false, nil
		}
	}

	lv, rv := reflect.ValueOf(left), reflect.ValueOf(right)

	if isNumber(lv) && isNumber(rv) {
		return orderResult(op, compareNumbers(lv, rv)), nil
	}
	if lv.Kind() == reflect.String && rv.Kind() == reflect.String {
		return orderResult(op, strings.Compare(lv.String(), rv.String())), nil
	}
	if lv.Kind() == reflect.Bool && rv.Kind() == reflect.Bool {
		if op.ordering() {
			return false, typeMismatch(op, left, right)
		}
		return equality(op, lv.Bool() == rv.Bool()), nil
	}
	if lt, ok := asTime(left, right); ok {
		rt, ok := asTime(right, left)
		if ok {
			return orderResult(op, lt.Compare(rt)), nil
		}
	}
	if ls, rs, ok := asStrings(lv, rv); ok {
		return orderResult(op, strings.Compare(ls, rs)), nil
	}
	if lv.Type() == rv.Type() && lv.Type().Comparable() {
		if op.ordering() {
			return false, typeMismatch(op, left, right)
		}
		return equality(op, reflect.DeepEqual(left, right)), nil
	}

	if op.ordering() {
		return false, typeMismatch(op, left, right)
	}
	return equality(op, false), nil
}

func orderResult(op cmpOp, c int) bool {
	switch op {
	case opEq:
		return c == 0
	case opNeq:
		return c != 0
	case opGt:
		return c > 0
	case opGte:
		return c >= 0
	case opLt:
		return c < 0
	default:
		return c <= 0
	}
}

func equality(op cmpOp, equal bool) bool {
	if op == opNeq {
		return !equal
	}
	return equal
}

func typeMismatch(op cmpOp, left, right any) error {
	return schema.NewErrorf(schema.ErrCodeTypeMismatch, "cannot apply %s to %T and %T", op, left, right)
}

// indirect dereferences pointers and interfaces; nil pointers become untyped nil.
func indirect(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func isNumber(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isSigned(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// compareNumbers compares exactly when both sides are integers, signed or
// not, and falls back to float64 when either side is a float.
func compareNumbers(l, r reflect.Value) int {
	switch {
	case isSigned(l) && isSigned(r):
		return cmp.Compare(l.Int(), r.Int())
	case isUnsigned(l) && isUnsigned(r):
		return cmp.Compare(l.Uint(), r.Uint())
	case isSigned(l) && isUnsigned(r):
		if l.Int() < 0 {
			return -1
		}
		return cmp.Compare(uint64(l.Int()), r.Uint())
	case isUnsigned(l) && isSigned(r):
		if r.Int() < 0 {
			return 1
		}
		return cmp.Compare(l.Uint(), uint64(r.Int()))
	}
	a, b := toFloat(l), toFloat(r)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	// NaN never orders; treat as unequal.
	return 1
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isSigned(v):
		return float64(v.Int())
	case v.Kind() == reflect.Float32 || v.Kind() == reflect.Float64:
		return v.Float()
	default:
		u := v.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return float64(int64(u))
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// asTime returns v as a time when it is a time.Time, or a string parseable as
// one while other is a time.Time.
func asTime(v, other any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	if _, ok := other.(time.Time); !ok {
		return time.Time{}, false
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// asStrings lets values with a String method (uuid.UUID and similar
// identifier types) compare against string literals.
func asStrings(l, r reflect.Value) (string, string, bool) {
	ls, lok := stringForm(l)
	rs, rok := stringForm(r)
	if !lok || !rok {
		return "", "", false
	}
	// At least one side must be a plain string, otherwise two unrelated
	// Stringers would compare by their rendering.
	if l.Kind() != reflect.String && r.Kind() != reflect.String {
		return "", "", false
	}
	return ls, rs, true
}

func stringForm(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.String {
		return v.String(), true
	}
	if v.Type() != timeType && v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String(), true
	}
	return "", false
}
