// ABOUTME: Tests for schema compilation and argument validation
// ABOUTME: Covers required fields, type checks, enums, and violation aggregation

package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

const weatherSchema = `{
	"type": "object",
	"properties": {
		"location": {"type": "string"},
		"days": {"type": "integer"},
		"units": {"type": "string", "enum": ["celsius", "fahrenheit"]},
		"detailed": {"type": "boolean"}
	},
	"required": ["location"]
}`

func TestValidateAccepts(t *testing.T) {
	v, err := Compile(json.RawMessage(weatherSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	cases := []struct {
		name string
		args map[string]any
	}{
		{"required only", map[string]any{"location": "Lisbon"}},
		{"all fields", map[string]any{
			"location": "Lisbon",
			"days":     float64(3),
			"units":    "celsius",
			"detailed": true,
		}},
		{"extra fields pass through", map[string]any{
			"location": "Lisbon",
			"unknown":  "whatever",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Validate(tc.args); err != nil {
				t.Errorf("Validate(%v) = %v, want nil", tc.args, err)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	v, err := Compile(json.RawMessage(weatherSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	cases := []struct {
		name    string
		args    map[string]any
		wantSub string
	}{
		{"missing required", map[string]any{"days": float64(1)}, `missing required property "location"`},
		{"wrong type", map[string]any{"location": 42}, `"location" must be of type string`},
		{"non-integer number", map[string]any{"location": "x", "days": 1.5}, `"days" must be of type integer`},
		{"enum violation", map[string]any{"location": "x", "units": "kelvin"}, `"units" must be one of`},
		{"bool type", map[string]any{"location": "x", "detailed": "yes"}, `"detailed" must be of type boolean`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.args)
			if err == nil {
				t.Fatalf("Validate(%v) = nil, want error", tc.args)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestValidateListsAllViolations(t *testing.T) {
	v, err := Compile(json.RawMessage(weatherSchema))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	args := map[string]any{
		"days":  "three",
		"units": "kelvin",
	}
	err = v.Validate(args)
	if err == nil {
		t.Fatal("expected validation error")
	}

	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}
	if len(verr.Violations) != 3 {
		t.Fatalf("got %d violations, want 3: %v", len(verr.Violations), verr.Violations)
	}
	for _, want := range []string{"location", "days", "units"} {
		found := false
		for _, v := range verr.Violations {
			if strings.Contains(v, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("no violation mentions %q: %v", want, verr.Violations)
		}
	}
}

func TestCompileEmptySchema(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`{}`)} {
		v, err := Compile(raw)
		if err != nil {
			t.Fatalf("Compile(%q): %v", raw, err)
		}
		if err := v.Validate(map[string]any{"anything": "goes"}); err != nil {
			t.Errorf("empty schema rejected args: %v", err)
		}
	}
}

func TestCompileInvalidSchema(t *testing.T) {
	if _, err := Compile(json.RawMessage(`{not json`)); err == nil {
		t.Error("Compile accepted malformed schema")
	}
}

func TestValidateNestedObject(t *testing.T) {
	v, err := Compile(json.RawMessage(`{
		"type": "object",
		"properties": {
			"options": {
				"type": "object",
				"properties": {
					"level": {"type": "string", "enum": ["low", "high"]},
					"count": {"type": "integer"}
				},
				"required": ["level"]
			}
		}
	}`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if err := v.Validate(map[string]any{
		"options": map[string]any{"level": "low", "count": float64(2)},
	}); err != nil {
		t.Errorf("conforming nested object rejected: %v", err)
	}

	cases := []struct {
		name    string
		args    map[string]any
		wantSub string
	}{
		{"missing nested required", map[string]any{
			"options": map[string]any{"count": float64(1)},
		}, `"options.level"`},
		{"nested type", map[string]any{
			"options": map[string]any{"level": "low", "count": "two"},
		}, `"options.count" must be of type integer`},
		{"nested enum", map[string]any{
			"options": map[string]any{"level": "medium"},
		}, `"options.level" must be one of`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.args)
			if err == nil {
				t.Fatalf("Validate(%v) = nil, want error", tc.args)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestValidateNumericEnum(t *testing.T) {
	v, err := Compile(json.RawMessage(`{
		"type": "object",
		"properties": {"level": {"type": "integer", "enum": [1, 2, 3]}}
	}`))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// JSON decoding hands us float64 even for integers.
	if err := v.Validate(map[string]any{"level": float64(2)}); err != nil {
		t.Errorf("float64 enum member rejected: %v", err)
	}
	if err := v.Validate(map[string]any{"level": float64(9)}); err == nil {
		t.Error("out-of-enum value accepted")
	}
}
