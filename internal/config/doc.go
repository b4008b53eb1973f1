// Package config handles configuration loading for mcp-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	bus:
//	  redis_addr: "${MCP_REDIS_ADDR}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  idle_timeout: "1h"
//	  sweep_interval: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # MCP endpoint and health checks
//
// Database:
//
//	database:
//	  path: "/var/lib/mcp-gateway/gateway.db"
//
// Message bus:
//
//	bus:
//	  backend: "memory"           # memory or redis
//	  redis_addr: "localhost:6379"
//	  channel_prefix: "mcp"
//
// Session lifecycle:
//
//	sessions:
//	  idle_timeout: "1h"
//	  sweep_interval: "5m"
//
// Execution deadlines:
//
//	execute:
//	  tool_timeout: "30s"
//	  resource_timeout: "10s"
//
// Contexts:
//
//	contexts:
//	  default: "default"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
