package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateInput validates the resolved cast input against the bundle's
// schema.json. Inputs travel as dynamic JSON, so the document is compiled
// with draft 2020-12 and the input is round-tripped through json.Number
// semantics the same way the wire body would be.
func ValidateInput(schemaPath string, input map[string]any) error {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("schema: read: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("schema: load: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("schema: compile: %w", err)
	}

	// Normalize through JSON so struct-free values validate consistently.
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("schema: encode input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("schema: decode input: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
