// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers context CRUD, capability upserts, and snapshot loading

package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testContext() *Context {
	return &Context{
		ID:   "test-ctx",
		Name: "Test Context",
		Tools: []ToolDef{
			{
				Name:        "echo",
				Description: "Echoes a message",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
				HandlerType: HandlerFunction,
			},
			{
				Name:          "fetch",
				Description:   "Fetches a URL",
				InputSchema:   json.RawMessage(`{"type":"object"}`),
				HandlerType:   HandlerHTTP,
				HandlerConfig: HandlerConfig{URL: "https://example.com/hook", Method: "POST"},
			},
		},
		Resources: []ResourceDef{
			{URI: "file:///readme", Name: "readme", MIMEType: "text/plain", Content: "hello"},
			{
				URI:           "status://live",
				Name:          "live status",
				HandlerType:   HandlerFunction,
				HandlerConfig: HandlerConfig{Function: "status"},
			},
		},
		Prompts: []PromptDef{
			{
				Name:      "greet",
				Arguments: []PromptArg{{Name: "name", Required: true}},
				Template:  "Hello, {{name}}!",
			},
		},
		Roots: []Root{{URI: "file:///workspace", Name: "workspace"}},
	}
}

func TestCreateAndGetContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateContext(ctx, testContext()); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	got, err := s.GetContext(ctx, "test-ctx")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}

	if got.Name != "Test Context" {
		t.Errorf("Name = %q, want %q", got.Name, "Test Context")
	}
	if len(got.Tools) != 2 {
		t.Fatalf("len(Tools) = %d, want 2", len(got.Tools))
	}
	if len(got.Resources) != 2 {
		t.Fatalf("len(Resources) = %d, want 2", len(got.Resources))
	}
	if len(got.Prompts) != 1 {
		t.Fatalf("len(Prompts) = %d, want 1", len(got.Prompts))
	}
	if len(got.Roots) != 1 {
		t.Fatalf("len(Roots) = %d, want 1", len(got.Roots))
	}

	echo := got.Tool("echo")
	if echo == nil {
		t.Fatal("Tool(echo) = nil")
	}
	if echo.HandlerType != HandlerFunction {
		t.Errorf("echo handler type = %q, want function", echo.HandlerType)
	}

	fetch := got.Tool("fetch")
	if fetch == nil || fetch.HandlerConfig.URL != "https://example.com/hook" {
		t.Errorf("fetch handler config not round-tripped: %+v", fetch)
	}

	static := got.Resource("file:///readme")
	if static == nil || static.Dynamic() {
		t.Errorf("file:///readme should be static, got %+v", static)
	}
	dynamic := got.Resource("status://live")
	if dynamic == nil || !dynamic.Dynamic() {
		t.Errorf("status://live should be dynamic, got %+v", dynamic)
	}
}

func TestCreateContext_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateContext(ctx, &Context{ID: "dup"}); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	err := s.CreateContext(ctx, &Context{ID: "dup"})
	if !errors.Is(err, ErrDuplicateContext) {
		t.Errorf("expected ErrDuplicateContext, got %v", err)
	}
}

func TestGetContext_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetContext(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateContext(ctx, testContext()); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if err := s.DeleteContext(ctx, "test-ctx"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if _, err := s.GetContext(ctx, "test-ctx"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteContext(ctx, "test-ctx"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPutTool_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateContext(ctx, &Context{ID: "ctx"}); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	tool := &ToolDef{Name: "greet", Description: "v1", HandlerType: HandlerCommand,
		HandlerConfig: HandlerConfig{Command: "echo", Args: []string{"hi"}}}
	if err := s.PutTool(ctx, "ctx", tool); err != nil {
		t.Fatalf("PutTool: %v", err)
	}

	tool.Description = "v2"
	if err := s.PutTool(ctx, "ctx", tool); err != nil {
		t.Fatalf("PutTool (update): %v", err)
	}

	got, err := s.GetContext(ctx, "ctx")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(got.Tools) != 1 {
		t.Fatalf("len(Tools) = %d, want 1", len(got.Tools))
	}
	if got.Tools[0].Description != "v2" {
		t.Errorf("Description = %q, want v2", got.Tools[0].Description)
	}
	if got.Tools[0].HandlerConfig.Command != "echo" {
		t.Errorf("Command = %q, want echo", got.Tools[0].HandlerConfig.Command)
	}
}

func TestPutTool_InvalidHandlerType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateContext(ctx, &Context{ID: "ctx"}); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	err := s.PutTool(ctx, "ctx", &ToolDef{Name: "bad", HandlerType: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown handler type")
	}
}

func TestListContexts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateContext(ctx, &Context{ID: id}); err != nil {
			t.Fatalf("CreateContext(%s): %v", id, err)
		}
	}

	list, err := s.ListContexts(ctx)
	if err != nil {
		t.Fatalf("ListContexts: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("len = %d, want 3", len(list))
	}
}
