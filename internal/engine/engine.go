// ABOUTME: Per-session MCP protocol engine dispatching JSON-RPC methods
// ABOUTME: Every session owns one engine bound to a capability context

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/systempromptio/mcp-gateway/internal/correlate"
	"github.com/systempromptio/mcp-gateway/internal/dispatch"
	"github.com/systempromptio/mcp-gateway/internal/schema"
	"github.com/systempromptio/mcp-gateway/internal/store"
)

// LatestProtocolVersion is the version advertised in initialize responses.
const LatestProtocolVersion = "2025-03-26"

// ServerName and ServerVersion identify this gateway to MCP clients.
const (
	ServerName    = "mcp-gateway"
	ServerVersion = "1.0.0"
)

// State tracks the engine lifecycle.
type State int

const (
	// StateCreated means the session exists but has not handled a request.
	StateCreated State = iota
	// StateActive means the engine has handled at least one request.
	StateActive
	// StateClosed means the session was evicted or shut down.
	StateClosed
)

// ErrClosed is returned for requests against a closed engine.
var ErrClosed = errors.New("session closed")

// Engine processes the JSON-RPC methods of one MCP session. It is bound to a
// capability context at creation and serves that context's tools, resources,
// prompts, and roots for its whole lifetime.
type Engine struct {
	sessionID  string
	contextID  string
	store      store.Store
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	validators map[string]*schema.Validator
}

// Config carries Engine dependencies.
type Config struct {
	SessionID  string
	ContextID  string
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessionID:  cfg.SessionID,
		contextID:  cfg.ContextID,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		logger: logger.With(
			"component", "engine",
			"session_id", cfg.SessionID,
			"context_id", cfg.ContextID,
		),
		state:      StateCreated,
		validators: make(map[string]*schema.Validator),
	}
}

// ContextID returns the capability context this engine serves.
func (e *Engine) ContextID() string {
	return e.contextID
}

// State returns the current lifecycle state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close transitions the engine to its terminal state. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateClosed
}

// Handle processes one JSON-RPC request and returns the response, or nil for
// notifications. Failures never escape as Go errors: every one is mapped to a
// JSON-RPC error object at this boundary.
func (e *Engine) Handle(ctx context.Context, req Request) *Response {
	if req.IsNotification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			e.logger.Warn("notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return NewError(req.ID, CodeInvalidRequest, "session closed", nil)
	}
	// Sessions are created lazily on the first request, so any handled
	// request activates the engine, not just the initialize handshake.
	e.state = StateActive
	e.mu.Unlock()

	e.logger.Debug("handling request", "method", req.Method)

	var (
		result any
		err    error
	)
	switch req.Method {
	case "initialize":
		result, err = e.initialize(ctx)
	case "ping":
		result = map[string]any{}
	case "tools/list":
		result, err = e.listTools(ctx)
	case "tools/call":
		result, err = e.callTool(ctx, req.Params)
	case "resources/list":
		result, err = e.listResources(ctx)
	case "resources/templates/list":
		result, err = e.listResourceTemplates(ctx)
	case "resources/read":
		result, err = e.readResource(ctx, req.Params)
	case "prompts/list":
		result, err = e.listPrompts(ctx)
	case "prompts/get":
		result, err = e.getPrompt(ctx, req.Params)
	case "roots/list":
		result, err = e.listRoots(ctx)
	default:
		return NewError(req.ID, CodeMethodNotFound, "method not found", nil)
	}

	if err != nil {
		return e.errorResponse(req.ID, req.Method, err)
	}
	return NewResult(req.ID, result)
}

func (e *Engine) initialize(ctx context.Context) (any, error) {
	if _, err := e.store.GetContext(ctx, e.contextID); err != nil {
		return nil, fmt.Errorf("loading context %q: %w", e.contextID, err)
	}

	e.logger.Info("session initialized", "protocol_version", LatestProtocolVersion)

	return InitializeResult{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ServerInfo: ServerInfo{Name: ServerName, Version: ServerVersion},
	}, nil
}

func (e *Engine) listTools(ctx context.Context) (any, error) {
	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}

	result := ListToolsResult{Tools: make([]ToolInfo, 0, len(cctx.Tools))}
	for _, tool := range cctx.Tools {
		schemaJSON := tool.InputSchema
		if len(schemaJSON) == 0 {
			schemaJSON = json.RawMessage(`{"type":"object"}`)
		}
		result.Tools = append(result.Tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaJSON,
		})
	}
	return result, nil
}

func (e *Engine) callTool(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var params CallToolParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, &paramError{msg: "invalid params"}
		}
	}
	if params.Name == "" {
		return nil, &paramError{msg: "tool name is required"}
	}

	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}
	tool := cctx.Tool(params.Name)
	if tool == nil {
		return nil, &paramError{msg: fmt.Sprintf("tool not found: %s", params.Name)}
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, &paramError{msg: "arguments must be an object"}
		}
	}

	validator, err := e.validatorFor(*tool)
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", tool.Name, err)
	}
	if err := validator.Validate(args); err != nil {
		return nil, err
	}

	raw, err := e.dispatcher.ExecuteTool(ctx, e.contextID, *tool, args)
	if err != nil {
		return nil, err
	}

	return CallToolResult{
		Content: []Content{{Type: "text", Text: rawToText(raw)}},
	}, nil
}

// validatorFor returns the cached validator for a tool, compiling it on first
// use.
func (e *Engine) validatorFor(tool store.ToolDef) (*schema.Validator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := e.validators[tool.Name]; ok {
		return v, nil
	}
	v, err := schema.Compile(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	e.validators[tool.Name] = v
	return v, nil
}

func (e *Engine) listResources(ctx context.Context) (any, error) {
	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}

	result := ListResourcesResult{Resources: make([]ResourceInfo, 0, len(cctx.Resources))}
	for _, res := range cctx.Resources {
		if res.IsTemplate() {
			continue
		}
		result.Resources = append(result.Resources, ResourceInfo{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MIMEType,
		})
	}
	return result, nil
}

func (e *Engine) listResourceTemplates(ctx context.Context) (any, error) {
	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}

	result := ListResourceTemplatesResult{ResourceTemplates: []ResourceTemplateInfo{}}
	for _, res := range cctx.Resources {
		if !res.IsTemplate() {
			continue
		}
		result.ResourceTemplates = append(result.ResourceTemplates, ResourceTemplateInfo{
			URITemplate: res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MIMEType,
		})
	}
	return result, nil
}

func (e *Engine) readResource(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var params ReadResourceParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, &paramError{msg: "invalid params"}
		}
	}
	if params.URI == "" {
		return nil, &paramError{msg: "resource uri is required"}
	}

	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}
	res := cctx.Resource(params.URI)
	if res == nil {
		return nil, &paramError{msg: fmt.Sprintf("resource not found: %s", params.URI)}
	}

	text := res.Content
	if res.Dynamic() {
		raw, err := e.dispatcher.ExecuteResource(ctx, e.contextID, *res)
		if err != nil {
			return nil, err
		}
		text = rawToText(raw)
	}

	return ReadResourceResult{
		Contents: []ResourceContents{{
			URI:      res.URI,
			MimeType: res.MIMEType,
			Text:     text,
		}},
	}, nil
}

func (e *Engine) listPrompts(ctx context.Context) (any, error) {
	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}

	result := ListPromptsResult{Prompts: make([]PromptInfo, 0, len(cctx.Prompts))}
	for _, p := range cctx.Prompts {
		info := PromptInfo{Name: p.Name, Description: p.Description}
		for _, arg := range p.Arguments {
			info.Arguments = append(info.Arguments, PromptArgumentInfo{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		result.Prompts = append(result.Prompts, info)
	}
	return result, nil
}

func (e *Engine) getPrompt(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var params GetPromptParams
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, &paramError{msg: "invalid params"}
		}
	}
	if params.Name == "" {
		return nil, &paramError{msg: "prompt name is required"}
	}

	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}
	prompt := cctx.Prompt(params.Name)
	if prompt == nil {
		return nil, &paramError{msg: fmt.Sprintf("prompt not found: %s", params.Name)}
	}

	var missing []string
	for _, arg := range prompt.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := params.Arguments[arg.Name]; !ok {
			missing = append(missing, arg.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &schema.ValidationError{
			Violations: missingArgViolations(missing),
		}
	}

	text := prompt.Template
	for name, value := range params.Arguments {
		text = strings.ReplaceAll(text, "{{"+name+"}}", value)
	}

	return GetPromptResult{
		Description: prompt.Description,
		Messages: []PromptMessage{{
			Role:    "user",
			Content: Content{Type: "text", Text: text},
		}},
	}, nil
}

func missingArgViolations(names []string) []string {
	violations := make([]string, len(names))
	for i, n := range names {
		violations[i] = fmt.Sprintf("missing required argument %q", n)
	}
	return violations
}

func (e *Engine) listRoots(ctx context.Context) (any, error) {
	cctx, err := e.store.GetContext(ctx, e.contextID)
	if err != nil {
		return nil, err
	}

	result := ListRootsResult{Roots: make([]RootInfo, 0, len(cctx.Roots))}
	for _, root := range cctx.Roots {
		result.Roots = append(result.Roots, RootInfo{URI: root.URI, Name: root.Name})
	}
	return result, nil
}

// paramError marks request-shape problems that map to invalid params.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

// errorResponse is the single taxonomy boundary: every failure class gets a
// stable JSON-RPC code, and unclassified errors collapse to a fixed internal
// error message so internals never leak to clients.
func (e *Engine) errorResponse(id json.RawMessage, method string, err error) *Response {
	var (
		paramErr   *paramError
		validation *schema.ValidationError
		upstream   *dispatch.UpstreamError
	)

	switch {
	case errors.As(err, &paramErr):
		return NewError(id, CodeInvalidParams, paramErr.msg, nil)

	case errors.As(err, &validation):
		return NewError(id, CodeInvalidParams, validation.Error(),
			map[string]any{"violations": validation.Violations})

	case errors.Is(err, store.ErrNotFound):
		return NewError(id, CodeInvalidParams, "not found", nil)

	case errors.Is(err, correlate.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		e.logger.Warn("execution timed out", "method", method)
		return NewError(id, CodeServerError, "execution timed out", nil)

	case errors.As(err, &upstream):
		e.logger.Warn("upstream handler failed", "method", method, "error", err)
		return NewError(id, CodeServerError, upstream.Error(), nil)

	case errors.Is(err, context.Canceled):
		return NewError(id, CodeServerError, "request cancelled", nil)

	default:
		e.logger.Error("internal error", "method", method, "error", err)
		return NewError(id, CodeInternalError, "Internal error", nil)
	}
}

// rawToText renders a raw JSON handler result as MCP text content. Plain JSON
// strings are unwrapped so clients see the text, not its quoted encoding.
func rawToText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
