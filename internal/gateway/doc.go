// ABOUTME: Package gateway wires all components and serves the MCP HTTP endpoint
// ABOUTME: Transport adapts HTTP to sessions; Gateway owns lifecycle and shutdown

// Package gateway is the composition root of mcp-gateway.
//
// Gateway builds the store, message bus, correlator, dispatcher, session
// registry, and idle monitor from configuration, then serves /mcp through the
// Transport along with /health and /health/ready. The Transport owns the HTTP
// error envelope: an unknown session is HTTP 404 with JSON-RPC code -32001,
// transport-level failures are HTTP 500 with the fixed internal error
// message, and engine-level errors ride in HTTP 200 responses as JSON-RPC
// error objects.
package gateway
