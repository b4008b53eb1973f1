// ABOUTME: Package engine implements the per-session MCP protocol state machine
// ABOUTME: One engine per session, bound to one capability context for its lifetime

// Package engine processes the JSON-RPC methods of an MCP session.
//
// Each session owns exactly one Engine, created when the session is and bound
// to a single capability context. The engine moves through three states:
// created, active after a successful initialize, and closed once evicted.
// Handle is the error boundary: every failure maps to a JSON-RPC error object
// with a stable code, and anything unclassified becomes a fixed internal
// error so implementation details never reach clients.
package engine
