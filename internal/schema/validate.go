// ABOUTME: Tool argument validation against JSON Schema input definitions
// ABOUTME: Validators are compiled once per tool and report every violation

package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/hashicorp/go-multierror"
)

// ValidationError reports argument schema violations. Every violated field is
// enumerated, not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid arguments: " + strings.Join(e.Violations, "; ")
}

// Validator checks call arguments against a tool's input schema. Compile it
// once per tool definition; Validate is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile parses a raw JSON Schema document into a Validator. An empty or
// "{}" schema compiles to a validator that accepts everything.
func Compile(raw json.RawMessage) (*Validator, error) {
	if len(raw) == 0 {
		return &Validator{}, nil
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing input schema: %w", err)
	}
	return &Validator{schema: &s}, nil
}

// Validate checks args against the compiled schema. Returns a
// *ValidationError listing every violation, or nil when args conform.
func (v *Validator) Validate(args map[string]any) error {
	if v.schema == nil {
		return nil
	}

	var result *multierror.Error

	for _, name := range v.schema.Required {
		if _, present := args[name]; !present {
			result = multierror.Append(result,
				fmt.Errorf("missing required property %q", name))
		}
	}

	for name, propSchema := range v.schema.Properties {
		value, present := args[name]
		if !present || propSchema == nil {
			continue
		}
		for _, violation := range checkProperty(name, propSchema, value) {
			result = multierror.Append(result, violation)
		}
	}

	if result == nil || len(result.Errors) == 0 {
		return nil
	}

	verr := &ValidationError{}
	for _, err := range result.Errors {
		verr.Violations = append(verr.Violations, err.Error())
	}
	return verr
}

// checkProperty validates one argument value against its property schema:
// type correctness, enum membership, and one level of nesting for object
// properties that declare their own properties or required fields.
func checkProperty(name string, s *jsonschema.Schema, value any) []error {
	if err := checkShape(name, s, value); err != nil {
		return []error{err}
	}

	obj, isObject := value.(map[string]any)
	if !isObject {
		return nil
	}

	var violations []error
	for _, required := range s.Required {
		if _, present := obj[required]; !present {
			violations = append(violations,
				fmt.Errorf("missing required property %q", name+"."+required))
		}
	}
	for child, childSchema := range s.Properties {
		childValue, present := obj[child]
		if !present || childSchema == nil {
			continue
		}
		if err := checkShape(name+"."+child, childSchema, childValue); err != nil {
			violations = append(violations, err)
		}
	}
	return violations
}

// checkShape checks type correctness and enum membership for one value.
func checkShape(name string, s *jsonschema.Schema, value any) error {
	if s.Type != "" && !typeMatches(s.Type, value) {
		return fmt.Errorf("property %q must be of type %s, got %s",
			name, s.Type, jsonTypeOf(value))
	}

	if len(s.Enum) > 0 && !enumContains(s.Enum, value) {
		return fmt.Errorf("property %q must be one of %s", name, formatEnum(s.Enum))
	}

	return nil
}

// typeMatches reports whether value conforms to the JSON Schema type name.
func typeMatches(typeName string, value any) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		return isJSONNumber(value)
	case "integer":
		return isJSONInteger(value)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		return reflect.ValueOf(value).Kind() == reflect.Slice
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		// Unknown type name: don't reject what we can't check.
		return true
	}
}

func isJSONNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

func isJSONInteger(value any) bool {
	switch n := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

// enumContains checks membership using loose numeric comparison, since JSON
// decoding yields float64 for all numbers.
func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if reflect.DeepEqual(candidate, value) {
			return true
		}
		if cf, ok := asFloat(candidate); ok {
			if vf, ok := asFloat(value); ok && cf == vf {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, v := range enum {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// jsonTypeOf names the JSON type of a decoded Go value for error messages.
func jsonTypeOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	}
	if reflect.ValueOf(value).Kind() == reflect.Slice {
		return "array"
	}
	return fmt.Sprintf("%T", value)
}
