package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is the contract the extraction capability answers with.
const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["store_name", "items", "text", "confidence"],
  "properties": {
    "store_name":     {"type": "string"},
    "store_location": {"type": ["string", "null"]},
    "recorded_at":    {"type": ["string", "null"]},
    "category":       {"type": ["string", "null"]},
    "text":           {"type": "string"},
    "confidence":     {"type": "number"},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "unit_price"],
        "properties": {
          "name":          {"type": "string", "minLength": 1},
          "unit_price":    {"type": ["number", "string"]},
          "quantity":      {"type": ["number", "string", "null"]},
          "category_hint": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
