// Package bus carries execute requests and results between the gateway's
// capability dispatcher and out-of-process function workers.
//
// The contract is two topics: every function-strategy call publishes an
// ExecuteRequest on the shared "execute" topic, and the handling worker
// publishes an ExecuteResult on "result.<correlationKey>". The dispatcher
// subscribes to the result topic before publishing the request, so the
// round trip cannot miss a fast response.
//
// Two implementations exist: MemoryBus (channel fan-out, single process) and
// RedisBus (Redis pub/sub, multi-process). The gateway selects one via
// bus.backend in its configuration.
package bus
