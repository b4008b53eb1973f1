// ABOUTME: Configuration loading and parsing for mcp-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding config fields are unset.
const (
	DefaultIdleTimeout     = time.Hour
	DefaultSweepInterval   = 5 * time.Minute
	DefaultToolTimeout     = 30 * time.Second
	DefaultResourceTimeout = 10 * time.Second
	DefaultContextID       = "default"
)

// Config represents the complete mcp-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Bus      BusConfig      `yaml:"bus"`
	Sessions SessionsConfig `yaml:"sessions"`
	Execute  ExecuteConfig  `yaml:"execute"`
	Contexts ContextsConfig `yaml:"contexts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BusConfig selects and configures the message bus backend.
// Backend is "memory" (single process) or "redis".
type BusConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// SessionsConfig holds session lifecycle timing configuration
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ExecuteConfig holds capability execution deadlines
type ExecuteConfig struct {
	ToolTimeout     time.Duration `yaml:"-"`
	ResourceTimeout time.Duration `yaml:"-"`

	ToolTimeoutRaw     string `yaml:"tool_timeout"`
	ResourceTimeoutRaw string `yaml:"resource_timeout"`
}

// ContextsConfig holds context binding configuration
type ContextsConfig struct {
	// Default is the context bound to sessions that don't name one
	Default string `yaml:"default"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset optional fields.
func (c *Config) applyDefaults() {
	if c.Bus.Backend == "" {
		c.Bus.Backend = "memory"
	}
	if c.Bus.RedisAddr == "" {
		c.Bus.RedisAddr = "localhost:6379"
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
	if c.Execute.ToolTimeout == 0 {
		c.Execute.ToolTimeout = DefaultToolTimeout
	}
	if c.Execute.ResourceTimeout == 0 {
		c.Execute.ResourceTimeout = DefaultResourceTimeout
	}
	if c.Contexts.Default == "" {
		c.Contexts.Default = DefaultContextID
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Bus.Backend != "memory" && c.Bus.Backend != "redis" {
		return fmt.Errorf("bus.backend must be \"memory\" or \"redis\", got %q", c.Bus.Backend)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"execute.tool_timeout", cfg.Execute.ToolTimeoutRaw, &cfg.Execute.ToolTimeout},
		{"execute.resource_timeout", cfg.Execute.ResourceTimeoutRaw, &cfg.Execute.ResourceTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
