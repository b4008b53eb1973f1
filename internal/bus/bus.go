// ABOUTME: Message bus interface and payload contracts for capability execution
// ABOUTME: Function-strategy calls publish execute requests and await keyed results

package bus

import (
	"context"
	"encoding/json"
)

// TopicExecute is the shared topic on which execute requests are published.
const TopicExecute = "execute"

// ResultTopic returns the per-call result topic for a correlation key.
func ResultTopic(correlationKey string) string {
	return "result." + correlationKey
}

// CapabilityRef identifies the capability an execute request targets.
type CapabilityRef struct {
	ContextID string `json:"contextId"`
	Kind      string `json:"kind"` // "tool" or "resource"
	Name      string `json:"name"`
	// Function is the worker-side handler name; defaults to Name when empty
	Function string `json:"function,omitempty"`
}

// HandlerName returns the worker-side function name for this capability.
func (r CapabilityRef) HandlerName() string {
	if r.Function != "" {
		return r.Function
	}
	return r.Name
}

// ExecuteRequest is published on TopicExecute for every function-strategy call.
type ExecuteRequest struct {
	CorrelationKey string         `json:"correlationKey"`
	Capability     CapabilityRef  `json:"capability"`
	Arguments      map[string]any `json:"arguments,omitempty"`
}

// ExecuteResult is published on ResultTopic(CorrelationKey) by whichever
// worker handled the request. Exactly one of Result and Error is set.
type ExecuteResult struct {
	CorrelationKey string          `json:"correlationKey"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Bus carries execute requests and results between the gateway and workers.
// Implementations must be safe for concurrent use.
type Bus interface {
	// Publish sends payload to every active subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns a subscription receiving messages published to topic
	// after the call returns. No replay of earlier messages.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Close releases all bus resources and terminates subscriptions.
	Close() error
}

// Subscription provides ordered message consumption from one topic.
type Subscription interface {
	// Next blocks until a message is available, the context is cancelled, or
	// the subscription is closed.
	Next(ctx context.Context) ([]byte, error)

	// Close releases the subscription. After Close, Next returns an error.
	Close() error
}
