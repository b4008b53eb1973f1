// ABOUTME: Capability dispatcher routing tool and resource execution to handlers
// ABOUTME: Supports bus-backed function handlers, HTTP endpoints, and local commands

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/systempromptio/mcp-gateway/internal/bus"
	"github.com/systempromptio/mcp-gateway/internal/correlate"
	"github.com/systempromptio/mcp-gateway/internal/store"
)

// UpstreamError reports a handler that ran but failed: a non-2xx HTTP
// response, a nonzero command exit, or an error result from a worker.
type UpstreamError struct {
	Detail string
}

func (e *UpstreamError) Error() string {
	return "upstream handler failed: " + e.Detail
}

// maxBodySnippet bounds how much of an HTTP error body lands in diagnostics.
const maxBodySnippet = 512

// Dispatcher executes capabilities according to their handler strategy.
type Dispatcher struct {
	bus             bus.Bus
	correlator      *correlate.Correlator
	httpClient      *http.Client
	toolTimeout     time.Duration
	resourceTimeout time.Duration
	logger          *slog.Logger
}

// Config carries Dispatcher dependencies and timeout policy.
type Config struct {
	Bus             bus.Bus
	Correlator      *correlate.Correlator
	HTTPClient      *http.Client
	ToolTimeout     time.Duration
	ResourceTimeout time.Duration
	Logger          *slog.Logger
}

func New(cfg Config) *Dispatcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:             cfg.Bus,
		correlator:      cfg.Correlator,
		httpClient:      client,
		toolTimeout:     cfg.ToolTimeout,
		resourceTimeout: cfg.ResourceTimeout,
		logger:          logger.With("component", "dispatch"),
	}
}

// ExecuteTool runs a tool call through its configured handler and returns the
// raw handler result. The tool execution deadline applies to every strategy.
func (d *Dispatcher) ExecuteTool(ctx context.Context, contextID string, tool store.ToolDef, args map[string]any) (json.RawMessage, error) {
	ref := bus.CapabilityRef{
		ContextID: contextID,
		Kind:      "tool",
		Name:      tool.Name,
		Function:  tool.HandlerConfig.Function,
	}
	return d.execute(ctx, ref, tool.HandlerType, tool.HandlerConfig, args, d.toolTimeout)
}

// ExecuteResource resolves a dynamic resource through its handler. Static
// resources never reach the dispatcher. The shorter resource deadline applies.
func (d *Dispatcher) ExecuteResource(ctx context.Context, contextID string, res store.ResourceDef) (json.RawMessage, error) {
	ref := bus.CapabilityRef{
		ContextID: contextID,
		Kind:      "resource",
		Name:      res.URI,
		Function:  res.HandlerConfig.Function,
	}
	args := map[string]any{"uri": res.URI}
	return d.execute(ctx, ref, res.HandlerType, res.HandlerConfig, args, d.resourceTimeout)
}

func (d *Dispatcher) execute(ctx context.Context, ref bus.CapabilityRef, ht store.HandlerType, cfg store.HandlerConfig, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	switch ht {
	case store.HandlerFunction:
		return d.executeFunction(ctx, ref, args, timeout)
	case store.HandlerHTTP:
		return d.executeHTTP(ctx, cfg, args, timeout)
	case store.HandlerCommand:
		return d.executeCommand(ctx, cfg, args, timeout)
	default:
		return nil, fmt.Errorf("unknown handler type %q", ht)
	}
}

// executeFunction publishes an execute request on the bus and waits for the
// correlated result. The result subscription is established before publishing
// so a fast worker cannot race the reply past us.
func (d *Dispatcher) executeFunction(ctx context.Context, ref bus.CapabilityRef, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	key := correlate.NewKey()

	handle, err := d.correlator.Register(key, timeout)
	if err != nil {
		return nil, fmt.Errorf("registering execution: %w", err)
	}

	sub, err := d.bus.Subscribe(ctx, bus.ResultTopic(key))
	if err != nil {
		d.correlator.Cancel(key)
		return nil, fmt.Errorf("subscribing for result: %w", err)
	}
	defer sub.Close()

	recvCtx, stopRecv := context.WithCancel(context.Background())
	defer stopRecv()
	go d.receiveResult(recvCtx, sub, key)

	req := bus.ExecuteRequest{
		CorrelationKey: key,
		Capability:     ref,
		Arguments:      args,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		d.correlator.Cancel(key)
		return nil, fmt.Errorf("encoding execute request: %w", err)
	}
	if err := d.bus.Publish(ctx, bus.TopicExecute, payload); err != nil {
		d.correlator.Cancel(key)
		return nil, fmt.Errorf("publishing execute request: %w", err)
	}

	d.logger.Debug("dispatched function call",
		"correlationKey", key,
		"capability", ref.Name,
		"context", ref.ContextID)

	out, err := handle.Await(ctx)
	if err != nil {
		return nil, err
	}
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Result, nil
}

// receiveResult pumps the result subscription into the correlator. It runs
// until a result arrives or the caller stops waiting.
func (d *Dispatcher) receiveResult(ctx context.Context, sub bus.Subscription, key string) {
	msg, err := sub.Next(ctx)
	if err != nil {
		return
	}

	var result bus.ExecuteResult
	if err := json.Unmarshal(msg, &result); err != nil {
		d.logger.Warn("malformed execute result", "correlationKey", key, "error", err)
		d.correlator.Complete(key, correlate.Outcome{
			Err: fmt.Errorf("decoding execute result: %w", err),
		})
		return
	}

	out := correlate.Outcome{Result: result.Result}
	if result.Error != "" {
		out = correlate.Outcome{Err: &UpstreamError{Detail: result.Error}}
	}
	if !d.correlator.Complete(key, out) {
		d.logger.Debug("result arrived after resolution", "correlationKey", key)
	}
}

// executeHTTP forwards the arguments to the configured endpoint and returns
// the response body. Non-GET requests carry the arguments as a JSON body;
// GET handlers receive no body.
func (d *Dispatcher) executeHTTP(ctx context.Context, cfg store.HandlerConfig, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, correlate.ErrTimeout
		}
		return nil, &UpstreamError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &UpstreamError{Detail: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := respBody
		if len(snippet) > maxBodySnippet {
			snippet = snippet[:maxBodySnippet]
		}
		return nil, &UpstreamError{
			Detail: fmt.Sprintf("HTTP %d from %s: %s", resp.StatusCode, cfg.URL, snippet),
		}
	}

	return normalizeResult(respBody), nil
}

// executeCommand runs the configured executable with arguments positioned by
// the arg_names contract and returns its stdout.
func (d *Dispatcher) executeCommand(ctx context.Context, cfg store.HandlerConfig, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	argv, err := buildArgv(cfg, args)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, correlate.ErrTimeout
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, &UpstreamError{
			Detail: fmt.Sprintf("command %s: %s", cfg.Command, detail),
		}
	}

	return normalizeResult(stdout.Bytes()), nil
}

// buildArgv assembles the command line: fixed args from the handler config
// followed by call argument values in arg_names order. Call arguments without
// a declared ordering are rejected because positional mapping would otherwise
// depend on map iteration.
func buildArgv(cfg store.HandlerConfig, args map[string]any) ([]string, error) {
	argv := append([]string{}, cfg.Args...)

	if len(args) > 0 && len(cfg.ArgNames) == 0 {
		return nil, fmt.Errorf("command handler %s declares no arg_names but received arguments", cfg.Command)
	}
	for _, name := range cfg.ArgNames {
		value, ok := args[name]
		if !ok {
			continue
		}
		argv = append(argv, fmt.Sprintf("%v", value))
	}
	return argv, nil
}

// normalizeResult returns raw as-is when it is valid JSON, otherwise wraps
// the trimmed text as a JSON string so callers always receive JSON.
func normalizeResult(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage(`null`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	encoded, err := json.Marshal(string(trimmed))
	if err != nil {
		return json.RawMessage(`null`)
	}
	return json.RawMessage(encoded)
}
