// ABOUTME: Tests for YAML seed file parsing and application
// ABOUTME: Covers schema conversion, handler config inlining, and re-seeding

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const seedYAML = `
contexts:
  - id: default
    name: Default
    tools:
      - name: echo
        description: Echoes a message back
        input_schema:
          type: object
          properties:
            message:
              type: string
          required: [message]
        handler:
          type: function
      - name: lookup
        description: Calls an upstream service
        handler:
          type: http
          url: https://api.example.com/lookup
          method: POST
          headers:
            X-Api-Key: "secret"
      - name: disk-usage
        description: Reports disk usage
        handler:
          type: command
          command: df
          args: ["-h"]
          arg_names: [path]
    resources:
      - uri: file:///motd
        name: motd
        mime_type: text/plain
        content: "welcome"
      - uri: "metrics://node/{id}"
        name: node metrics
        handler:
          type: function
          function: node_metrics
    prompts:
      - name: summarize
        description: Summarize some text
        arguments:
          - name: text
            required: true
        template: "Summarize the following:\n{{text}}"
    roots:
      - uri: file:///srv/data
        name: data
`

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0644); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	seed, err := LoadSeedFile(writeSeed(t))
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}

	if len(seed.Contexts) != 1 {
		t.Fatalf("len(Contexts) = %d, want 1", len(seed.Contexts))
	}
	sc := seed.Contexts[0]
	if sc.ID != "default" {
		t.Errorf("ID = %q, want default", sc.ID)
	}
	if len(sc.Tools) != 3 {
		t.Fatalf("len(Tools) = %d, want 3", len(sc.Tools))
	}
	if sc.Tools[1].Handler.Type != HandlerHTTP {
		t.Errorf("lookup handler type = %q, want http", sc.Tools[1].Handler.Type)
	}
	if sc.Tools[1].Handler.Config.Headers["X-Api-Key"] != "secret" {
		t.Errorf("headers not parsed: %+v", sc.Tools[1].Handler.Config)
	}
	if sc.Tools[2].Handler.Config.ArgNames[0] != "path" {
		t.Errorf("arg_names not parsed: %+v", sc.Tools[2].Handler.Config)
	}
}

func TestSeedApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed, err := LoadSeedFile(writeSeed(t))
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if err := seed.Apply(ctx, s); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := s.GetContext(ctx, "default")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}

	echo := got.Tool("echo")
	if echo == nil {
		t.Fatal("Tool(echo) = nil")
	}
	var schema map[string]any
	if err := json.Unmarshal(echo.InputSchema, &schema); err != nil {
		t.Fatalf("input schema is not valid JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want object", schema["type"])
	}

	tmpl := got.Resource("metrics://node/{id}")
	if tmpl == nil {
		t.Fatal("template resource missing")
	}
	if !tmpl.IsTemplate() {
		t.Error("metrics://node/{id} should be a template")
	}
	if tmpl.HandlerConfig.Function != "node_metrics" {
		t.Errorf("Function = %q, want node_metrics", tmpl.HandlerConfig.Function)
	}

	// Re-applying must upsert, not fail on the duplicate context.
	if err := seed.Apply(ctx, s); err != nil {
		t.Fatalf("Apply (second run): %v", err)
	}
	got, err = s.GetContext(ctx, "default")
	if err != nil {
		t.Fatalf("GetContext after re-seed: %v", err)
	}
	if len(got.Tools) != 3 {
		t.Errorf("len(Tools) after re-seed = %d, want 3", len(got.Tools))
	}
}
