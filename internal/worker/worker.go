// ABOUTME: Worker runtime that executes function-strategy capabilities
// ABOUTME: Subscribes to execute requests on the bus and publishes keyed results

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/systempromptio/mcp-gateway/internal/bus"
)

// HandlerFunc implements one named capability function. The returned value is
// serialized to JSON as the execution result.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Worker consumes execute requests from the bus and runs registered handler
// functions, publishing each result on the request's correlation topic.
type Worker struct {
	bus    bus.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// Config carries Worker dependencies.
type Config struct {
	Bus    bus.Bus
	Logger *slog.Logger
}

func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		bus:      cfg.Bus,
		logger:   logger.With("component", "worker"),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a named handler function. Registering the same name twice
// replaces the earlier handler.
func (w *Worker) Register(name string, fn HandlerFunc) {
	w.mu.Lock()
	w.handlers[name] = fn
	w.mu.Unlock()
}

// Handlers returns the registered function names, sorted.
func (w *Worker) Handlers() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Worker) lookup(name string) (HandlerFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn, ok := w.handlers[name]
	return fn, ok
}

// Run consumes execute requests until the context is canceled. Each request
// runs in its own goroutine so a slow handler cannot stall the queue.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, bus.TopicExecute)
	if err != nil {
		return fmt.Errorf("subscribing to execute topic: %w", err)
	}
	defer sub.Close()

	w.logger.Info("worker running", "handlers", w.Handlers())

	g, ctx := errgroup.WithContext(ctx)
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("bus receive failed", "error", err)
			break
		}

		var req bus.ExecuteRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			w.logger.Warn("malformed execute request", "error", err)
			continue
		}

		g.Go(func() error {
			w.handle(ctx, req)
			return nil
		})
	}

	return g.Wait()
}

// handle runs one execute request and publishes the outcome. Handler panics
// and errors both surface as error results so the gateway side never hangs
// waiting for a reply that will not come.
func (w *Worker) handle(ctx context.Context, req bus.ExecuteRequest) {
	result := w.execute(ctx, req)
	result.CorrelationKey = req.CorrelationKey

	payload, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("encoding result failed", "correlation_key", req.CorrelationKey, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, bus.ResultTopic(req.CorrelationKey), payload); err != nil {
		w.logger.Error("publishing result failed", "correlation_key", req.CorrelationKey, "error", err)
	}
}

func (w *Worker) execute(ctx context.Context, req bus.ExecuteRequest) (result bus.ExecuteResult) {
	name := req.Capability.HandlerName()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "function", name, "panic", r)
			result = bus.ExecuteResult{Error: fmt.Sprintf("handler %s panicked", name)}
		}
	}()

	fn, ok := w.lookup(name)
	if !ok {
		w.logger.Warn("no handler for function", "function", name)
		return bus.ExecuteResult{Error: fmt.Sprintf("unknown function: %s", name)}
	}

	w.logger.Debug("executing function",
		"function", name,
		"correlation_key", req.CorrelationKey,
		"context_id", req.Capability.ContextID)

	value, err := fn(ctx, req.Arguments)
	if err != nil {
		return bus.ExecuteResult{Error: err.Error()}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return bus.ExecuteResult{Error: fmt.Sprintf("encoding handler result: %v", err)}
	}
	return bus.ExecuteResult{Result: raw}
}
