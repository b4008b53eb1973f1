// Package correlate provides the keyed one-shot completion primitive behind
// function-strategy capability execution.
//
// A caller registers a correlation key with a deadline and awaits the
// returned handle. The registration resolves exactly once, by whichever of
// three paths claims it first: a completion carrying a result or error, the
// deadline timer, or an explicit cancel during teardown. The claim is a
// single atomic remove-from-map step, so a timer firing concurrently with a
// late completion can never double-resolve — the loser finds the key gone
// and does nothing.
package correlate
