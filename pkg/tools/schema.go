package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema creates a JSON Schema from a Go argument struct using
// struct tags.
//
// Supported tags:
//   - json:"name" - parameter name
//   - jsonschema:"required" - mark as required
//   - jsonschema:"description=..." - parameter description
//   - jsonschema:"enum=a|b" - allowed values
//   - jsonschema:"default=...,minimum=N,maximum=M"
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))
	schemaMap, err := schemaToMap(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	if schemaMap["type"] == "object" {
		result := map[string]any{
			"type":       "object",
			"properties": schemaMap["properties"],
		}
		if required := schemaMap["required"]; required != nil {
			result["required"] = required
		}
		if addProps, ok := schemaMap["additionalProperties"]; ok {
			result["additionalProperties"] = addProps
		}
		return result, nil
	}
	return schemaMap, nil
}

// MustSchema is GenerateSchema for static argument structs, where a
// failure is a programming error.
func MustSchema[T any]() map[string]any {
	schema, err := GenerateSchema[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}

// ValidateArgs checks model-supplied arguments against a tool's schema.
// It enforces required fields, rejects unknown fields when the schema
// forbids them, and checks primitive types. A violation is a permanent
// failure; the model gets it back verbatim so it can correct the call.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	properties, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required argument %q", name)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required argument %q", name)
			}
		}
	}

	for name, value := range args {
		propAny, known := properties[name]
		if !known {
			if allow, ok := schema["additionalProperties"].(bool); ok && !allow {
				return fmt.Errorf("unknown argument %q", name)
			}
			continue
		}
		prop, _ := propAny.(map[string]any)
		if err := checkType(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, prop map[string]any, value any) error {
	declared, _ := prop["type"].(string)
	if declared == "" || value == nil {
		return nil
	}

	ok := true
	switch declared {
	case "string":
		_, ok = value.(string)
	case "integer":
		// JSON numbers decode as float64; accept whole floats.
		switch v := value.(type) {
		case float64:
			ok = v == float64(int64(v))
		case int, int32, int64:
		default:
			ok = false
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			ok = false
		}
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]any)
	case "object":
		_, ok = value.(map[string]any)
	}

	if !ok {
		return fmt.Errorf("argument %q must be of type %s", name, declared)
	}
	return nil
}
