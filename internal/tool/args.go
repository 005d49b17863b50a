package tool

import (
	"encoding/json"

	"metatool/internal/errs"
)

// JSONResult marshals v into a single-text-block result.
func JSONResult(v any) (*Result, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errs.Internal(err, "encode tool result")
	}
	return &Result{Content: []ContentBlock{{Type: "text", Text: string(encoded)}}}, nil
}

// StringArg extracts a string argument; required args fail with
// InvalidInput when absent or empty.
func StringArg(args map[string]any, key string, required bool) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return "", errs.InvalidInput("missing required argument: %s", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", errs.InvalidInput("argument %s must be a string", key)
	}
	if required && s == "" {
		return "", errs.InvalidInput("argument %s must not be empty", key)
	}
	return s, nil
}

// IntArg extracts an integer argument, accepting JSON numbers.
func IntArg(args map[string]any, key string, fallback int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errs.InvalidInput("argument %s must be an integer", key)
		}
		return int(n), nil
	default:
		return 0, errs.InvalidInput("argument %s must be an integer", key)
	}
}

// StringSliceArg extracts a list-of-strings argument.
func StringSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errs.InvalidInput("argument %s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errs.InvalidInput("argument %s must be a list of strings", key)
	}
}

// MapArg extracts a nested object argument.
func MapArg(args map[string]any, key string) (map[string]any, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errs.InvalidInput("argument %s must be an object", key)
	}
	return m, nil
}

// ObjectSchema builds a JSON schema for an object with the given
// properties and required names.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Prop is shorthand for a schema property.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// ArrayProp is shorthand for a string-array schema property.
func ArrayProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}
