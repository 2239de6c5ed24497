package schema

// Input is one caller-supplied object for an evaluation call.
// An empty Name leaves the object unnamed: it is bound positionally and its
// fields are exposed as top-level symbols.
type Input struct {
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
}

// Named binds value to an explicit symbol name.
func Named(name string, value any) Input {
	return Input{Name: name, Value: value}
}

// Unnamed wraps a value without an explicit symbol name.
func Unnamed(value any) Input {
	return Input{Value: value}
}
