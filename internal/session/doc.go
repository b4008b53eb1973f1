// ABOUTME: Package session manages MCP session lifecycle and idle eviction
// ABOUTME: Registry holds live sessions, Monitor sweeps the idle ones

// Package session tracks live MCP sessions.
//
// The Registry is the in-memory source of truth: sessions are created with a
// fresh engine, looked up by id on every request, and evicted either
// explicitly (client DELETE, shutdown) or by the Monitor when idle past the
// configured timeout. Each Session serializes its own request handling, so a
// client that pipelines requests still sees them processed one at a time.
package session
