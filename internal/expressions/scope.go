package expressions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/rulekit/pkg/schema"
)

// Scope is the set of symbols visible to rule expressions during one
// evaluation call. It is built once from the caller's inputs and is read-only
// afterwards, so the rules of a call can share it across goroutines.
//
// Binding order:
//   - Named inputs are bound under their name. Two inputs with the same name are rejected.
//   - Every input is also bound as input1, input2, ... by position unless the name is taken.
//   - Fields of unnamed struct or map inputs are promoted to top-level symbols.
//     The first unnamed input providing a field wins; explicit names are never overridden.
type Scope struct {
	symbols map[string]any
	order   []string
	folded  map[string]string // lower-case name -> first bound name

	plainOnce sync.Once
	plain     map[string]any
	plainErr  error
}

// NewScope binds inputs into a new Scope.
func NewScope(inputs ...schema.Input) (*Scope, error) {
	s := &Scope{
		symbols: make(map[string]any, len(inputs)*2),
		folded:  make(map[string]string, len(inputs)*2),
	}

	for i, in := range inputs {
		if in.Name == "" {
			continue
		}
		if _, dup := s.symbols[in.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate input name %q", in.Name).
				WithDetails(map[string]any{"position": i + 1})
		}
		s.bind(in.Name, in.Value)
	}

	for i, in := range inputs {
		positional := fmt.Sprintf("input%d", i+1)
		if _, taken := s.symbols[positional]; !taken {
			s.bind(positional, in.Value)
		}
	}

	for _, in := range inputs {
		if in.Name != "" {
			continue
		}
		promoteFields(in.Value, func(name string, v any) {
			if _, taken := s.symbols[name]; !taken {
				s.bind(name, v)
			}
		})
	}

	return s, nil
}

func (s *Scope) bind(name string, v any) {
	s.symbols[name] = v
	s.order = append(s.order, name)
	lower := strings.ToLower(name)
	if _, ok := s.folded[lower]; !ok {
		s.folded[lower] = name
	}
}

// Lookup returns the value bound to a root symbol. An exact match wins over a
// case-insensitive one.
func (s *Scope) Lookup(name string) (any, bool) {
	if v, ok := s.symbols[name]; ok {
		return v, true
	}
	if bound, ok := s.folded[strings.ToLower(name)]; ok {
		return s.symbols[bound], true
	}
	return nil, false
}

// Symbols returns the bound symbol names in binding order.
func (s *Scope) Symbols() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Values returns the native values of the given root symbols, skipping the
// unbound ones. A nil slice selects every symbol.
func (s *Scope) Values(symbols []string) map[string]any {
	if symbols == nil {
		out := make(map[string]any, len(s.symbols))
		for k, v := range s.symbols {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(symbols))
	for _, name := range symbols {
		if v, ok := s.Lookup(name); ok {
			out[name] = v
		}
	}
	return out
}

// ResolvePath resolves a dotted member path such as "driver.license.expires".
func (s *Scope) ResolvePath(path string) (any, error) {
	segments := strings.Split(path, ".")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}
	return s.Resolve(segments)
}

// Resolve walks a member path. The first segment selects a root symbol; the
// rest walk struct fields and map keys. A missing field, or a walk through
// nil, yields Absent. Walking through anything else that has no members is a
// PATH_FAULT.
func (s *Scope) Resolve(segments []string) (any, error) {
	if len(segments) == 0 || segments[0] == "" {
		return nil, schema.NewError(schema.ErrCodePathFault, "empty member path")
	}
	cur, ok := s.Lookup(segments[0])
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnresolvedSymbol,
			"symbol %q is not bound", segments[0]).
			WithDetails(map[string]any{"symbol": segments[0], "bound": s.Symbols()})
	}

	for i := 1; i < len(segments); i++ {
		next, err := member(cur, segments[i])
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePathFault,
				"cannot read %q of %s: %s", segments[i], strings.Join(segments[:i], "."), err.Error()).
				WithDetails(map[string]any{"path": strings.Join(segments, ".")})
		}
		if IsAbsent(next) {
			return Absent, nil
		}
		cur = next
	}
	return cur, nil
}

// Plain returns a JSON-shaped copy of the scope: maps, slices, strings,
// bools, nil, int and float64. It is computed on first use.
func (s *Scope) Plain() (map[string]any, error) {
	s.plainOnce.Do(func() {
		raw, err := json.Marshal(s.symbols)
		if err != nil {
			s.plainErr = schema.NewErrorf(schema.ErrCodeValidation,
				"inputs are not representable as JSON: %s", err.Error()).WithCause(err)
			return
		}
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		var out map[string]any
		if err := dec.Decode(&out); err != nil {
			s.plainErr = schema.NewErrorf(schema.ErrCodeValidation,
				"decode plain inputs: %s", err.Error()).WithCause(err)
			return
		}
		s.plain = normalizeNumbers(out).(map[string]any)
	})
	return s.plain, s.plainErr
}

// normalizeNumbers replaces json.Number with int when integral and float64
// otherwise, the number types every library-backed kind accepts.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil && int64(int(i)) == i {
			return int(i)
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

// member reads one field or key of v.
func member(v any, name string) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return Absent, nil
		}
		if m, ok := niladicMethod(rv, name); ok {
			return m, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return Absent, nil
	}

	switch rv.Kind() {
	case reflect.Struct:
		if f, ok := structField(rv, name); ok {
			return f.Interface(), nil
		}
		if m, ok := niladicMethod(rv, name); ok {
			return m, nil
		}
		return Absent, nil
	case reflect.Map:
		if rv.IsNil() {
			return Absent, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keyed by %s has no members", rv.Type().Key())
		}
		val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return Absent, nil
		}
		return val.Interface(), nil
	}

	if m, ok := niladicMethod(rv, name); ok {
		return m, nil
	}
	return nil, fmt.Errorf("%s has no members", rv.Type())
}

// structField finds an exported field by exact name, then case-insensitively,
// then by its json tag.
func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	if f, ok := t.FieldByName(name); ok && f.IsExported() {
		return fieldValue(rv, f)
	}
	fields := reflect.VisibleFields(t)
	for _, f := range fields {
		if f.IsExported() && !f.Anonymous && strings.EqualFold(f.Name, name) {
			return fieldValue(rv, f)
		}
	}
	for _, f := range fields {
		if f.IsExported() && jsonName(f) == name {
			return fieldValue(rv, f)
		}
	}
	return reflect.Value{}, false
}

// fieldValue reads a possibly promoted field; a nil embedded pointer on the
// way reads as a missing field.
func fieldValue(rv reflect.Value, f reflect.StructField) (reflect.Value, bool) {
	v, err := rv.FieldByIndexErr(f.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return v, true
}

func niladicMethod(rv reflect.Value, name string) (any, bool) {
	m := rv.MethodByName(name)
	if !m.IsValid() || m.Type().NumIn() != 0 || m.Type().NumOut() != 1 {
		return nil, false
	}
	return m.Call(nil)[0].Interface(), true
}

func jsonName(f reflect.StructField) string {
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

// promoteFields reports each top-level field of a struct or string-keyed map.
// Map keys are visited in sorted order so promotion is deterministic.
func promoteFields(v any, fn func(name string, v any)) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return
	}

	switch rv.Kind() {
	case reflect.Struct:
		for _, f := range reflect.VisibleFields(rv.Type()) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			field, ok := fieldValue(rv, f)
			if !ok {
				continue
			}
			fv := field.Interface()
			fn(f.Name, fv)
			if tag := jsonName(f); tag != "" && tag != f.Name {
				fn(tag, fv)
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			fn(k.String(), rv.MapIndex(k).Interface())
		}
	}
}
