package cast

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/template"
)

// BuildInput assembles the cast input: the --input JSON document first,
// then each key=value parameter applied as a dot-path set. Parameter
// values that parse as JSON keep their native type, everything else is a
// string.
func BuildInput(inputJSON []byte, params []string) (map[string]any, error) {
	input := make(map[string]any)
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &input); err != nil {
			return nil, errs.New(errs.CodeBadRequest, "input is not a JSON object: %v", err)
		}
	}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, errs.New(errs.CodeBadRequest, "invalid parameter %q, expected key=value", p)
		}
		if err := template.SetPath(input, key, parseParamValue(value)); err != nil {
			return nil, errs.New(errs.CodeBadRequest, "invalid parameter %q: %v", p, err)
		}
	}
	return input, nil
}

func parseParamValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// CheckInputSize enforces the canonical-JSON byte ceiling on the input.
func CheckInputSize(input map[string]any, maxBytes int) error {
	if maxBytes <= 0 {
		return nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("cast: marshal input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("cast: canonicalize input: %w", err)
	}
	if len(canonical) > maxBytes {
		return errs.New(errs.CodeBadRequest, "input exceeds maximum size: %d > %d bytes", len(canonical), maxBytes)
	}
	return nil
}
