package tools

import (
	"math"
	"sort"
)

// ArgType is the wire type of a tool argument.
type ArgType string

const (
	TypeString      ArgType = "string"
	TypeBool        ArgType = "boolean"
	TypeInt         ArgType = "integer"
	TypeStringArray ArgType = "array"
)

// ArgSpec describes one argument of a tool: its type, whether the caller
// must supply it, and a description surfaced in tools/list.
type ArgSpec struct {
	Type        ArgType
	Required    bool
	Description string
}

// Schema maps argument names to their specs. One generic validator checks
// every tool's params against its Schema; tools never hand-roll argument
// type switches.
type Schema map[string]ArgSpec

// Validate checks params against the schema: required keys present, types
// matching, no undeclared keys. The first violation is returned as an
// InvalidArguments error naming the field.
func (s Schema) Validate(params map[string]any) error {
	for name, spec := range s {
		v, ok := params[name]
		if !ok {
			if spec.Required {
				return ArgumentError(name, "missing required argument %q", name)
			}
			continue
		}
		if err := checkType(name, spec.Type, v); err != nil {
			return err
		}
	}
	for name := range params {
		if _, ok := s[name]; !ok {
			return ArgumentError(name, "unknown argument %q", name)
		}
	}
	return nil
}

func checkType(name string, want ArgType, v any) error {
	switch want {
	case TypeString:
		if _, ok := v.(string); !ok {
			return ArgumentError(name, "argument %q must be a string, got %T", name, v)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return ArgumentError(name, "argument %q must be a boolean, got %T", name, v)
		}
	case TypeInt:
		// JSON numbers decode as float64; an integral value is required.
		switch n := v.(type) {
		case int, int64:
		case float64:
			if n != math.Trunc(n) {
				return ArgumentError(name, "argument %q must be an integer, got %v", name, n)
			}
		default:
			return ArgumentError(name, "argument %q must be an integer, got %T", name, v)
		}
	case TypeStringArray:
		switch arr := v.(type) {
		case []string:
		case []any:
			for i, elem := range arr {
				if _, ok := elem.(string); !ok {
					return ArgumentError(name, "argument %q[%d] must be a string, got %T", name, i, elem)
				}
			}
		default:
			return ArgumentError(name, "argument %q must be an array of strings, got %T", name, v)
		}
	default:
		return NewError(KindInternalError, "argument %q has unsupported schema type %q", name, want)
	}
	return nil
}

// JSONSchema renders the schema as the JSON Schema object served by
// tools/list. Required names are sorted so repeated listings are identical.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s))
	var required []string
	for name, spec := range s {
		prop := map[string]any{"type": string(spec.Type)}
		if spec.Type == TypeStringArray {
			prop["items"] = map[string]any{"type": "string"}
		}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- Typed extractors ---
//
// These run after Validate, so a declared argument that is present is
// already type-correct; they only distinguish "absent" from "set".

// StringArg returns the named string argument, or an error if absent.
func StringArg(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok {
		return "", ArgumentError(name, "missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", ArgumentError(name, "argument %q must be a string, got %T", name, v)
	}
	return s, nil
}

// OptionalString returns the named string argument, or fallback if absent.
func OptionalString(params map[string]any, name, fallback string) string {
	if s, ok := params[name].(string); ok {
		return s
	}
	return fallback
}

// BoolArg returns the named boolean argument, or an error if absent.
func BoolArg(params map[string]any, name string) (bool, error) {
	v, ok := params[name]
	if !ok {
		return false, ArgumentError(name, "missing required argument %q", name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, ArgumentError(name, "argument %q must be a boolean, got %T", name, v)
	}
	return b, nil
}

// OptionalInt returns the named integer argument, or fallback if absent.
func OptionalInt(params map[string]any, name string, fallback int) int {
	switch n := params[name].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}

// OptionalBool returns the named boolean argument, or fallback if absent.
func OptionalBool(params map[string]any, name string, fallback bool) bool {
	if b, ok := params[name].(bool); ok {
		return b
	}
	return fallback
}

// StringSliceArg returns the named string-array argument, or nil if absent.
func StringSliceArg(params map[string]any, name string) ([]string, error) {
	v, ok := params[name]
	if !ok {
		return nil, nil
	}
	switch arr := v.(type) {
	case []string:
		return arr, nil
	case []any:
		out := make([]string, 0, len(arr))
		for i, elem := range arr {
			s, ok := elem.(string)
			if !ok {
				return nil, ArgumentError(name, "argument %q[%d] must be a string, got %T", name, i, elem)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ArgumentError(name, "argument %q must be an array of strings, got %T", name, v)
	}
}
