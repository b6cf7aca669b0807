package runtime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// placeholderRe matches ${identifier} variable placeholders.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolve substitutes ${name} placeholders anywhere in a parameter shape —
// scalars, sequences and nested records — against a snapshot of the
// variable table. It is pure: the input is never mutated and a new value is
// returned, so later table mutations cannot retroactively affect
// already-resolved parameters.
//
// A string that consists of exactly one placeholder resolves to the bound
// value itself, preserving its type; placeholders embedded in longer strings
// are replaced textually with the value's string form. Identifiers missing
// from the table are left in place and reported in the second return value
// so the caller can surface a run-time error before using the parameter.
func Resolve(value any, vars map[string]any) (any, []string) {
	var unresolved []string
	resolved := resolveValue(value, vars, &unresolved)
	return resolved, unresolved
}

func resolveValue(value any, vars map[string]any, unresolved *[]string) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, vars, unresolved)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, vars, unresolved)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = resolveValue(item, vars, unresolved)
		}
		return out
	default:
		return value
	}
}

func resolveString(s string, vars map[string]any, unresolved *[]string) any {
	// Whole-string placeholder: return the bound value with its type intact
	// so numeric and structured parameters survive substitution. Structured
	// values are copied — resolved parameters must not alias the table.
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		if val, ok := vars[m[1]]; ok {
			return copyValue(val)
		}
		*unresolved = append(*unresolved, m[1])
		return s
	}

	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			*unresolved = append(*unresolved, name)
			return match
		}
		return Stringify(val)
	})
}

// copyValue deep-copies the container shapes a variable can hold so that
// later table mutations never reach already-resolved parameters.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// Stringify renders a variable value for textual substitution. Structured
// values are rendered as compact JSON; floats avoid exponent notation so
// amounts stay readable in RPC parameters.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}
