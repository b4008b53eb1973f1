// ABOUTME: Keyed one-shot completion registry for async capability execution
// ABOUTME: Correlates execute requests with results under a per-key deadline

package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
)

// ErrDuplicateKey indicates the correlation key is already registered.
var ErrDuplicateKey = errors.New("duplicate correlation key")

// ErrTimeout indicates no completion arrived within the registration deadline.
var ErrTimeout = errors.New("execution timed out")

// ErrShutdown indicates the correlator was closed while the call was pending.
var ErrShutdown = errors.New("correlator shut down")

// Outcome is the resolution of a pending execution: a result or an error.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// pendingExecution tracks one in-flight registration. The channel is buffered
// so the resolving side never blocks; whoever claims the entry owns the only
// send.
type pendingExecution struct {
	ch           chan Outcome
	timer        clockwork.Timer
	registeredAt time.Time
}

// Correlator is a registry of pending executions keyed by correlation key.
// Each key resolves exactly once, by whichever of completion, timeout, or
// cancel claims it first; the losers become no-ops.
type Correlator struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingExecution
	closed  bool
}

// Config contains configuration options for the Correlator.
type Config struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// New creates a Correlator. A nil clock defaults to the real clock.
func New(cfg Config) *Correlator {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Correlator{
		clock:   clock,
		logger:  logger,
		pending: make(map[string]*pendingExecution),
	}
}

// NewKey generates a unique correlation key.
func NewKey() string {
	return ulid.Make().String()
}

// Handle is the waitable side of a registration.
type Handle struct {
	key string
	c   *Correlator
	ch  <-chan Outcome
}

// Key returns the correlation key this handle awaits.
func (h *Handle) Key() string {
	return h.key
}

// Await blocks until the registration resolves or ctx is done. When ctx ends
// first, the registration is cancelled so a late completion becomes a no-op.
func (h *Handle) Await(ctx context.Context) (Outcome, error) {
	select {
	case out := <-h.ch:
		return out, nil
	case <-ctx.Done():
		h.c.Cancel(h.key)
		// The claim may have resolved concurrently with ctx; prefer the outcome.
		select {
		case out := <-h.ch:
			return out, nil
		default:
		}
		return Outcome{}, ctx.Err()
	}
}

// Register creates a pending execution for key that times out after timeout.
// At most one registration may exist per key.
func (c *Correlator) Register(key string, timeout time.Duration) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrShutdown
	}
	if _, exists := c.pending[key]; exists {
		return nil, ErrDuplicateKey
	}

	p := &pendingExecution{
		ch:           make(chan Outcome, 1),
		registeredAt: c.clock.Now(),
	}
	p.timer = c.clock.AfterFunc(timeout, func() {
		c.expire(key)
	})
	c.pending[key] = p

	return &Handle{key: key, c: c, ch: p.ch}, nil
}

// Complete resolves the pending execution for key with out. Returns false
// when no registration exists (already resolved, timed out, or cancelled).
func (c *Correlator) Complete(key string, out Outcome) bool {
	p := c.claim(key)
	if p == nil {
		c.logger.Debug("completion for unknown correlation key", "key", key)
		return false
	}
	p.timer.Stop()
	p.ch <- out
	return true
}

// Cancel removes the pending execution for key without resolving it. The
// awaiting caller is not notified; used during session teardown when the
// caller is already gone.
func (c *Correlator) Cancel(key string) bool {
	p := c.claim(key)
	if p == nil {
		return false
	}
	p.timer.Stop()
	return true
}

// PendingCount returns the number of in-flight registrations.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close resolves every pending registration with ErrShutdown and rejects
// further registrations. Safe to call multiple times.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	n := len(c.pending)
	for key, p := range c.pending {
		p.timer.Stop()
		p.ch <- Outcome{Err: ErrShutdown}
		delete(c.pending, key)
	}
	if n > 0 {
		c.logger.Info("correlator closed", "pending_cancelled", n)
	}
}

// expire resolves a registration with ErrTimeout when its timer fires. If the
// key was already claimed this is a no-op.
func (c *Correlator) expire(key string) {
	p := c.claim(key)
	if p == nil {
		return
	}
	c.logger.Warn("pending execution timed out",
		"key", key,
		"waited", c.clock.Since(p.registeredAt),
	)
	p.ch <- Outcome{Err: ErrTimeout}
}

// claim atomically removes and returns the pending execution for key, or nil.
// This is the single step shared by completion, timeout, and cancel that
// guarantees exactly-once resolution.
func (c *Correlator) claim(key string) *pendingExecution {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok {
		return nil
	}
	delete(c.pending, key)
	return p
}
