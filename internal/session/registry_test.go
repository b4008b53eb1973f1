// ABOUTME: Tests for the session registry and idle sweep monitor
// ABOUTME: Uses a fake clock to drive idle timeouts deterministically

package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systempromptio/mcp-gateway/internal/bus"
	"github.com/systempromptio/mcp-gateway/internal/correlate"
	"github.com/systempromptio/mcp-gateway/internal/dispatch"
	"github.com/systempromptio/mcp-gateway/internal/engine"
	"github.com/systempromptio/mcp-gateway/internal/store"
)

func newTestRegistry(clock clockwork.Clock) *Registry {
	return NewRegistry(RegistryConfig{
		Clock: clock,
		Factory: func(sessionID, contextID string) *engine.Engine {
			return engine.New(engine.Config{
				SessionID: sessionID,
				ContextID: contextID,
			})
		},
	})
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClock())

	sess := r.Create("demo")
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "demo", sess.ContextID)
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestGetUnknown(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClock())

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionIDsAreUnique(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClock())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess := r.Create("demo")
		require.False(t, seen[sess.ID], "duplicate session id %s", sess.ID)
		seen[sess.ID] = true
	}
}

func TestEvict(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClock())
	sess := r.Create("demo")

	assert.True(t, r.Evict(sess.ID))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, engine.StateClosed, sess.engine.CurrentState())

	// Second eviction is a no-op.
	assert.False(t, r.Evict(sess.ID))
	assert.False(t, r.Evict("never-existed"))
}

func TestSweepEvictsOnlyIdleSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(clock)

	idle := r.Create("demo")
	busy := r.Create("demo")

	clock.Advance(40 * time.Minute)
	_, err := r.Get(busy.ID) // refreshes the idle clock
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)

	// idle has been untouched for 70m, busy for 30m.
	evicted := r.Sweep(time.Hour)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Len())

	_, err = r.Get(idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(busy.ID)
	assert.NoError(t, err)
}

func TestSweepNothingIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(clock)
	r.Create("demo")

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, r.Sweep(time.Hour))
	assert.Equal(t, 1, r.Len())
}

func TestShutdownAll(t *testing.T) {
	r := newTestRegistry(clockwork.NewFakeClock())
	a := r.Create("demo")
	b := r.Create("demo")

	r.ShutdownAll()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, engine.StateClosed, a.engine.CurrentState())
	assert.Equal(t, engine.StateClosed, b.engine.CurrentState())
}

// newBlockingRegistry builds a registry whose engines dispatch a
// function-strategy tool over a memory bus with no worker attached, so calls
// stay in flight until the fake clock fires the execution deadline.
func newBlockingRegistry(t *testing.T, clock clockwork.Clock) (*Registry, bus.Bus, *correlate.Correlator) {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	err = s.CreateContext(context.Background(), &store.Context{
		ID:   "demo",
		Name: "Demo",
		Tools: []store.ToolDef{{
			Name:        "slowjob",
			HandlerType: store.HandlerFunction,
		}},
	})
	require.NoError(t, err)

	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })
	c := correlate.New(correlate.Config{Clock: clock})
	t.Cleanup(c.Close)

	d := dispatch.New(dispatch.Config{
		Bus:             b,
		Correlator:      c,
		ToolTimeout:     30 * time.Second,
		ResourceTimeout: 10 * time.Second,
	})

	r := NewRegistry(RegistryConfig{
		Clock: clock,
		Factory: func(sessionID, contextID string) *engine.Engine {
			return engine.New(engine.Config{
				SessionID:  sessionID,
				ContextID:  contextID,
				Store:      s,
				Dispatcher: d,
			})
		},
	})
	return r, b, c
}

func callSlowjob(sess *Session) *engine.Response {
	return sess.Handle(context.Background(), engine.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"slowjob"}`),
	})
}

func TestSweepAndGetDoNotWaitForInFlightCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, b, c := newBlockingRegistry(t, clock)

	busy := r.Create("demo")
	other := r.Create("demo")

	// Subscribe before the call publishes so the dispatch is observable.
	sub, err := b.Subscribe(context.Background(), bus.TopicExecute)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan *engine.Response, 1)
	go func() { done <- callSlowjob(busy) }()

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sub.Next(waitCtx)
	require.NoError(t, err)

	// A sweep tick and lookups of other sessions must not queue behind the
	// suspended call.
	start := time.Now()
	assert.Equal(t, 0, r.Sweep(time.Hour))
	_, err = r.Get(other.ID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	clock.Advance(31 * time.Second)
	resp := <-done
	require.NotNil(t, resp.Error)
	assert.Equal(t, 0, c.PendingCount())
}

func TestEvictWithInFlightCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, b, c := newBlockingRegistry(t, clock)

	sess := r.Create("demo")

	sub, err := b.Subscribe(context.Background(), bus.TopicExecute)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan *engine.Response, 1)
	go func() { done <- callSlowjob(sess) }()

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(waitCtx)
	require.NoError(t, err)
	var execReq bus.ExecuteRequest
	require.NoError(t, json.Unmarshal(msg, &execReq))

	// Evicting while the call is awaiting must not disturb it.
	require.True(t, r.Evict(sess.ID))
	assert.Equal(t, engine.StateClosed, sess.engine.CurrentState())
	assert.Equal(t, 1, c.PendingCount())

	clock.Advance(31 * time.Second)
	resp := <-done
	require.NotNil(t, resp.Error, "in-flight call should resolve with a timeout after eviction")

	// A completion landing after the timeout resolved the call is a
	// silent no-op.
	completed := c.Complete(execReq.CorrelationKey, correlate.Outcome{
		Result: json.RawMessage(`"late"`),
	})
	assert.False(t, completed)
	assert.Equal(t, 0, c.PendingCount())
}

func TestMonitorSweepsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(clock)
	r.Create("demo")

	m := NewMonitor(MonitorConfig{
		Registry:    r,
		IdleTimeout: time.Minute,
		Interval:    5 * time.Minute,
		Clock:       clock,
	})
	m.Start()
	defer m.Stop()

	clock.BlockUntil(1) // wait for the ticker to be armed
	clock.Advance(5 * time.Minute)

	require.Eventually(t, func() bool {
		return r.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorStopIdempotent(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		Registry:    newTestRegistry(clockwork.NewFakeClock()),
		IdleTimeout: time.Minute,
		Interval:    time.Minute,
		Clock:       clockwork.NewFakeClock(),
	})
	m.Start()
	m.Stop()
	m.Stop()
}
