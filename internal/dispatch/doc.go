// ABOUTME: Package dispatch executes capabilities through their handler strategies
// ABOUTME: Function handlers round-trip the bus, http and command run in-process

// Package dispatch routes tool calls and dynamic resource reads to whichever
// handler strategy the capability declares.
//
// Function handlers publish an execute request on the message bus and await a
// correlated result from a worker. HTTP handlers call an endpoint directly.
// Command handlers spawn a local subprocess. All three honor the execution
// deadline; handler failures surface as *UpstreamError and expired deadlines
// as correlate.ErrTimeout.
package dispatch
