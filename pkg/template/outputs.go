package template

import (
	"fmt"
	"strings"
)

// ErrOutputNotFound marks a missing output reference. The condition
// evaluator turns this into a skip instead of a failure.
type ErrOutputNotFound struct {
	Ref string
}

func (e *ErrOutputNotFound) Error() string {
	return fmt.Sprintf("output reference not found: %s", e.Ref)
}

// ResolveOutputReference resolves step.<name>.stdout or
// step.<name>.json[.dot.path] against the outputs map. A dotted suffix on
// a stdout reference is rejected; json references walk into the parsed
// response body.
func ResolveOutputReference(outputs map[string]any, ref string) (any, error) {
	parts := strings.Split(ref, ".")
	if len(parts) < 3 || parts[0] != "step" {
		return nil, fmt.Errorf("invalid output reference: %s", ref)
	}
	name, kind := parts[1], parts[2]
	rest := parts[3:]

	switch kind {
	case "stdout":
		if len(rest) > 0 {
			return nil, fmt.Errorf("stdout reference does not support nested path: %s", ref)
		}
		val, ok := outputs["step."+name+".stdout"]
		if !ok {
			return nil, &ErrOutputNotFound{Ref: ref}
		}
		return val, nil
	case "json":
		val, ok := outputs["step."+name+".json"]
		if !ok {
			return nil, &ErrOutputNotFound{Ref: ref}
		}
		for _, seg := range rest {
			obj, ok := val.(map[string]any)
			if !ok {
				return nil, &ErrOutputNotFound{Ref: ref}
			}
			val, ok = obj[seg]
			if !ok {
				return nil, &ErrOutputNotFound{Ref: ref}
			}
		}
		return val, nil
	default:
		return nil, fmt.Errorf("invalid output reference: %s", ref)
	}
}
