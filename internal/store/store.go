// ABOUTME: Store interface and data types for mcp-gateway persistence
// ABOUTME: Defines Context, ToolDef, ResourceDef, PromptDef and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateContext is returned when trying to create a context that already exists
var ErrDuplicateContext = errors.New("context already exists")

// HandlerType identifies the execution strategy for a capability.
type HandlerType string

const (
	// HandlerFunction executes via an async message-bus round trip
	HandlerFunction HandlerType = "function"
	// HandlerHTTP executes via an outbound HTTP call
	HandlerHTTP HandlerType = "http"
	// HandlerCommand executes via a local subprocess
	HandlerCommand HandlerType = "command"
)

// Valid reports whether t is a known handler type.
func (t HandlerType) Valid() bool {
	switch t {
	case HandlerFunction, HandlerHTTP, HandlerCommand:
		return true
	}
	return false
}

// HandlerConfig carries the strategy-specific execution settings for a
// capability. Only the fields for the capability's HandlerType are used.
type HandlerConfig struct {
	// function: name the worker resolves; defaults to the capability name
	Function string `json:"function,omitempty" yaml:"function,omitempty"`

	// http
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// command: fixed args first, then argument values appended in ArgNames order
	Command  string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args     []string `json:"args,omitempty" yaml:"args,omitempty"`
	ArgNames []string `json:"arg_names,omitempty" yaml:"arg_names,omitempty"`
}

// ToolDef describes a tool exposed by a context. Name is unique within the
// context. InputSchema is a JSON Schema document validated against call
// arguments before dispatch.
type ToolDef struct {
	Name          string
	Description   string
	InputSchema   json.RawMessage
	HandlerType   HandlerType
	HandlerConfig HandlerConfig
}

// ResourceDef describes a resource exposed by a context. A resource with an
// empty HandlerType is static and serves its stored Content; otherwise it is
// dynamic and reads delegate to the capability dispatcher.
type ResourceDef struct {
	URI           string
	Name          string
	Description   string
	MIMEType      string
	Content       string
	HandlerType   HandlerType
	HandlerConfig HandlerConfig
}

// Dynamic reports whether reads of this resource go through a handler strategy.
func (r *ResourceDef) Dynamic() bool {
	return r.HandlerType != ""
}

// IsTemplate reports whether the resource URI contains template placeholders.
func (r *ResourceDef) IsTemplate() bool {
	return strings.Contains(r.URI, "{")
}

// PromptArg describes one argument accepted by a prompt.
type PromptArg struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// PromptDef describes a prompt template exposed by a context. Template text
// contains {{argName}} placeholders substituted at get time.
type PromptDef struct {
	Name        string
	Description string
	Arguments   []PromptArg
	Template    string
}

// Root describes a root directory advertised by a context.
type Root struct {
	URI  string `json:"uri" yaml:"uri"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Context is a named namespace grouping a capability set. GetContext returns
// it fully populated; the gateway treats the snapshot as immutable.
type Context struct {
	ID        string
	Name      string
	CreatedAt time.Time

	Tools     []ToolDef
	Resources []ResourceDef
	Prompts   []PromptDef
	Roots     []Root
}

// Tool returns the tool with the given name, or nil.
func (c *Context) Tool(name string) *ToolDef {
	for i := range c.Tools {
		if c.Tools[i].Name == name {
			return &c.Tools[i]
		}
	}
	return nil
}

// Resource returns the resource with the given URI, or nil.
func (c *Context) Resource(uri string) *ResourceDef {
	for i := range c.Resources {
		if c.Resources[i].URI == uri {
			return &c.Resources[i]
		}
	}
	return nil
}

// Prompt returns the prompt with the given name, or nil.
func (c *Context) Prompt(name string) *PromptDef {
	for i := range c.Prompts {
		if c.Prompts[i].Name == name {
			return &c.Prompts[i]
		}
	}
	return nil
}

// Store defines the interface for context and capability persistence
type Store interface {
	// Contexts
	CreateContext(ctx context.Context, c *Context) error
	GetContext(ctx context.Context, id string) (*Context, error)
	ListContexts(ctx context.Context) ([]*Context, error)
	DeleteContext(ctx context.Context, id string) error

	// Capabilities (upsert within a context)
	PutTool(ctx context.Context, contextID string, tool *ToolDef) error
	PutResource(ctx context.Context, contextID string, res *ResourceDef) error
	PutPrompt(ctx context.Context, contextID string, prompt *PromptDef) error
	PutRoot(ctx context.Context, contextID string, root *Root) error

	// Close releases any resources held by the store
	Close() error
}
