// ABOUTME: Tests for the correlation registry's exactly-once resolution
// ABOUTME: Covers completion, timeout, cancel, races, and key isolation

package correlate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorrelator(clock clockwork.Clock) *Correlator {
	return New(Config{Clock: clock})
}

func TestRegisterAndComplete(t *testing.T) {
	c := newTestCorrelator(nil)
	defer c.Close()

	handle, err := c.Register("key-1", 30*time.Second)
	require.NoError(t, err)

	ok := c.Complete("key-1", Outcome{Result: json.RawMessage(`"done"`)})
	assert.True(t, ok)

	out, err := handle.Await(context.Background())
	require.NoError(t, err)
	require.NoError(t, out.Err)
	assert.Equal(t, `"done"`, string(out.Result))

	assert.Equal(t, 0, c.PendingCount())
}

func TestRegister_DuplicateKey(t *testing.T) {
	c := newTestCorrelator(nil)
	defer c.Close()

	_, err := c.Register("dup", time.Minute)
	require.NoError(t, err)

	_, err = c.Register("dup", time.Minute)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCorrelator(clock)
	defer c.Close()

	handle, err := c.Register("slow", 30*time.Second)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	out, err := handle.Await(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Equal(t, 0, c.PendingCount())
}

func TestLateCompletionAfterTimeoutIsNoOp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCorrelator(clock)
	defer c.Close()

	handle, err := c.Register("late", 10*time.Second)
	require.NoError(t, err)

	clock.Advance(11 * time.Second)

	out, err := handle.Await(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, out.Err, ErrTimeout)

	// The completion message arrives after the key was claimed by the timer.
	ok := c.Complete("late", Outcome{Result: json.RawMessage(`"too late"`)})
	assert.False(t, ok)
}

func TestNoCrossTalkBetweenKeys(t *testing.T) {
	c := newTestCorrelator(nil)
	defer c.Close()

	handleA, err := c.Register("key-a", time.Minute)
	require.NoError(t, err)
	handleB, err := c.Register("key-b", time.Minute)
	require.NoError(t, err)

	require.True(t, c.Complete("key-a", Outcome{Result: json.RawMessage(`"a"`)}))

	outA, err := handleA.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(outA.Result))

	// key-b is still pending, untouched by key-a's completion.
	assert.Equal(t, 1, c.PendingCount())

	require.True(t, c.Complete("key-b", Outcome{Result: json.RawMessage(`"b"`)}))
	outB, err := handleB.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"b"`, string(outB.Result))
}

func TestCancel(t *testing.T) {
	c := newTestCorrelator(nil)
	defer c.Close()

	_, err := c.Register("teardown", time.Minute)
	require.NoError(t, err)

	assert.True(t, c.Cancel("teardown"))
	assert.Equal(t, 0, c.PendingCount())

	// Both the eventual completion and a second cancel are no-ops.
	assert.False(t, c.Complete("teardown", Outcome{}))
	assert.False(t, c.Cancel("teardown"))
}

func TestAwait_ContextCancelled(t *testing.T) {
	c := newTestCorrelator(nil)
	defer c.Close()

	handle, err := c.Register("abandoned", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = handle.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// Await cancelled the registration on its way out.
	assert.False(t, c.Complete("abandoned", Outcome{}))
}

func TestClose_ResolvesPending(t *testing.T) {
	c := newTestCorrelator(nil)

	handle, err := c.Register("open", time.Minute)
	require.NoError(t, err)

	c.Close()

	out, err := handle.Await(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err, ErrShutdown)

	_, err = c.Register("after-close", time.Minute)
	assert.ErrorIs(t, err, ErrShutdown)

	// Closing twice is safe.
	c.Close()
}

func TestConcurrentCompleteAndTimeoutResolveOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCorrelator(clock)
	defer c.Close()

	const iterations = 100
	for i := 0; i < iterations; i++ {
		key := NewKey()
		handle, err := c.Register(key, time.Millisecond)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(2 * time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			c.Complete(key, Outcome{Result: json.RawMessage(`"won"`)})
		}()

		out, err := handle.Await(context.Background())
		require.NoError(t, err)
		// Exactly one resolution: either the completion or the timeout won.
		if out.Err != nil {
			assert.ErrorIs(t, out.Err, ErrTimeout)
		} else {
			assert.Equal(t, `"won"`, string(out.Result))
		}
		wg.Wait()

		// No residue either way.
		assert.False(t, c.Complete(key, Outcome{}))
	}
}

func TestNewKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := NewKey()
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}
