package engines

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// holdingsSchema constrains the reasoning service's extraction output.
// The identifier pattern mirrors the ISIN format stage; checksum grading
// happens after parsing.
func holdingsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"required":             []any{"securities"},
		"additionalProperties": false,
		"properties": map[string]any{
			"securities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"required":             []any{"identifier", "market_value"},
					"additionalProperties": false,
					"properties": map[string]any{
						"identifier":   map[string]any{"type": "string", "pattern": "^[A-Z]{2}[A-Z0-9]{9}[0-9]$"},
						"name":         map[string]any{"type": "string"},
						"quantity":     map[string]any{"type": []any{"number", "null"}},
						"unit_price":   map[string]any{"type": []any{"number", "null"}},
						"market_value": map[string]any{"type": "number"},
						"currency":     map[string]any{"type": "string", "maxLength": 3},
					},
				},
			},
			"confidence": map[string]any{"type": []any{"number", "null"}, "minimum": 0, "maximum": 1},
		},
	}
}

// correctionsSchema constrains the reasoning service's validation output:
// corrections apply only to the named field of the named security.
func correctionsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"required":             []any{"corrections"},
		"additionalProperties": false,
		"properties": map[string]any{
			"corrections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"required":             []any{"identifier", "field", "newValue", "reason"},
					"additionalProperties": false,
					"properties": map[string]any{
						"identifier": map[string]any{"type": "string"},
						"field":      map[string]any{"type": "string", "enum": []any{"name", "quantity", "unit_price", "market_value", "currency"}},
						"newValue":   map[string]any{"type": "string"},
						"reason":     map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// validateAgainstSchema validates raw JSON against an inline schema map.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
