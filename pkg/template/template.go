// Package template implements placeholder substitution, dot-path access
// over dynamic JSON values, step output references, and receipt redaction.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*((?:INPUT|ENV)\.[^}\s]+)\s*\}\}`)

// Apply substitutes {{INPUT.a.b.c}} and {{ENV.NAME}} placeholders in value.
// When a string consists of a single placeholder the substituted value
// keeps its native type; otherwise the result is stringified in place.
// Maps and slices are walked recursively. Unresolved placeholders fail.
func Apply(value any, input map[string]any, env map[string]string) (any, error) {
	switch v := value.(type) {
	case string:
		return applyString(v, input, env)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			applied, err := Apply(elem, input, env)
			if err != nil {
				return nil, err
			}
			out[k] = applied
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			applied, err := Apply(elem, input, env)
			if err != nil {
				return nil, err
			}
			out[i] = applied
		}
		return out, nil
	default:
		return value, nil
	}
}

func applyString(s string, input map[string]any, env map[string]string) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-value single placeholder: preserve the native type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return resolveExpr(expr, input, env)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		val, err := resolveExpr(s[m[2]:m[3]], input, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func resolveExpr(expr string, input map[string]any, env map[string]string) (any, error) {
	switch {
	case strings.HasPrefix(expr, "INPUT."):
		val, ok := GetPath(input, strings.TrimPrefix(expr, "INPUT."))
		if !ok {
			return nil, fmt.Errorf("unresolved template: {{%s}}", expr)
		}
		return val, nil
	case strings.HasPrefix(expr, "ENV."):
		name := strings.TrimPrefix(expr, "ENV.")
		val, ok := env[name]
		if !ok {
			return nil, fmt.Errorf("unresolved template: {{%s}}", expr)
		}
		return val, nil
	default:
		return nil, fmt.Errorf("unresolved template: {{%s}}", expr)
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetPath walks a dot path into nested maps. Returns false when any
// segment is missing or a non-map is traversed.
func GetPath(m map[string]any, path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any = m
	for _, seg := range segs {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath sets a dot path in a map, creating intermediate objects.
// Fails when an intermediate segment holds a non-object value.
func SetPath(m map[string]any, path string, value any) error {
	segs := strings.Split(path, ".")
	cur := m
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg]
		if !ok {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %s: %s is not an object", path, strings.Join(segs[:i+1], "."))
		}
		cur = child
	}
	return nil
}
