// ABOUTME: Package worker runs capability handler functions behind the bus
// ABOUTME: Gateways publish execute requests, workers answer on result topics

package worker
