package expressions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Interpolate replaces $(path) placeholders in a result message with values
// resolved against scope. A placeholder that cannot be resolved (unbound
// symbol, missing field, path fault) is left verbatim so the message still
// shows what was referenced.
func Interpolate(message string, scope *Scope) string {
	if scope == nil || !HasPlaceholders(message) {
		return message
	}

	var result strings.Builder
	result.Grow(len(message))

	i := 0
	for i < len(message) {
		idx := strings.Index(message[i:], "$(")
		if idx == -1 {
			result.WriteString(message[i:])
			break
		}
		result.WriteString(message[i : i+idx])
		start := i + idx + 2 // skip "$(".

		end := strings.IndexByte(message[start:], ')')
		if end == -1 {
			// Unclosed placeholder: keep the remainder as-is.
			result.WriteString(message[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(message[start:end])
		if text, ok := resolvePlaceholder(scope, path); ok {
			result.WriteString(text)
		} else {
			result.WriteString(message[i+idx : end+1])
		}
		i = end + 1 // skip ")".
	}

	return result.String()
}

// resolvePlaceholder renders one placeholder path. A method that panics while
// the path is read or the value is formatted counts as unresolved.
func resolvePlaceholder(scope *Scope, path string) (text string, ok bool) {
	if path == "" {
		return "", false
	}
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	val, err := scope.ResolvePath(path)
	if err != nil || IsAbsent(val) {
		return "", false
	}
	return formatInline(val), true
}

// HasPlaceholders reports whether message contains any $(...) reference.
func HasPlaceholders(message string) bool {
	return strings.Contains(message, "$(")
}

// formatInline renders a resolved value for embedding in a message.
// Strings are embedded without quotes; maps, slices and structs as JSON.
func formatInline(val any) string {
	switch v := indirect(val).(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
