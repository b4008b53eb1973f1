// ABOUTME: Builtin handler functions shipped with the demo worker
// ABOUTME: Small self-contained functions useful for smoke-testing a gateway

package worker

import (
	"context"
	"fmt"
	"time"
)

// RegisterBuiltins installs the demo handler set on a worker.
func RegisterBuiltins(w *Worker) {
	w.Register("echo", echoHandler)
	w.Register("current_time", currentTimeHandler)
	w.Register("add", addHandler)
}

// echoHandler returns its arguments unchanged.
func echoHandler(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{"echo": args}, nil
}

// currentTimeHandler reports the worker's wall clock.
func currentTimeHandler(_ context.Context, args map[string]any) (any, error) {
	format := time.RFC3339
	if f, ok := args["format"].(string); ok && f != "" {
		format = f
	}
	return map[string]any{"time": time.Now().Format(format)}, nil
}

// addHandler sums two numbers.
func addHandler(_ context.Context, args map[string]any) (any, error) {
	a, okA := args["a"].(float64)
	b, okB := args["b"].(float64)
	if !okA || !okB {
		return nil, fmt.Errorf("add requires numeric arguments a and b")
	}
	return map[string]any{"sum": a + b}, nil
}
