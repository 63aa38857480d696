package template

import (
	"os"
	"regexp"
	"strings"
)

// Redacted replaces sensitive values in serialized receipts.
const Redacted = "[REDACTED]"

// SensitiveKeyPattern matches field names whose string values must never
// appear in a receipt.
var SensitiveKeyPattern = regexp.MustCompile(`(?i)token|secret|password|authorization|api[_-]?key`)

// SensitiveEnvValues returns the values of process env vars whose names
// match the sensitive pattern. These values are scrubbed from free-form
// strings wherever they appear.
func SensitiveEnvValues() []string {
	var vals []string
	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			continue
		}
		name, val := kv[:eq], kv[eq+1:]
		if val != "" && SensitiveKeyPattern.MatchString(name) {
			vals = append(vals, val)
		}
	}
	return vals
}

// Redact walks a dynamic JSON value and returns a copy with sensitive
// fields replaced by [REDACTED] and sensitive env values scrubbed from
// every string.
func Redact(value any, envSecrets []string) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			if s, ok := elem.(string); ok && SensitiveKeyPattern.MatchString(k) && s != "" {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(elem, envSecrets)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = Redact(elem, envSecrets)
		}
		return out
	case string:
		return scrub(v, envSecrets)
	default:
		return value
	}
}

func scrub(s string, envSecrets []string) string {
	for _, secret := range envSecrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, Redacted)
		}
	}
	return s
}
