// Package config holds the server configuration: defaults, an optional JSON5
// config file, and environment overrides (env wins). Validation collects
// every violation before failing so a bad deployment surfaces all problems
// in one startup error.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the Fable server.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Adventure AdventureConfig `json:"adventure"`
	Agent     AgentConfig     `json:"agent"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig covers the listener and connection policy.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	MaxConnections int      `json:"max_connections"`
	StaticRoot     string   `json:"static_root,omitempty"`
	Production     bool     `json:"production,omitempty"` // NODE_ENV=production hint
}

// AdventureConfig covers the persistent state sandbox.
type AdventureConfig struct {
	AdventuresDir string `json:"adventures_dir"`
	ProjectDir    string `json:"project_dir"` // required at session init; must exist then
}

// AgentConfig covers the upstream GM agent.
type AgentConfig struct {
	Bin          string        `json:"bin,omitempty"`     // agent CLI binary (co-process mode)
	APIKey       string        `json:"-"`                 // from env FABLE_AGENT_API_KEY only, never persisted
	Mock         bool          `json:"mock,omitempty"`    // deterministic simulator instead of the real agent
	InputTimeout time.Duration `json:"-"`                 // wall-clock bound per player input
	MaxTurns     int           `json:"max_turns,omitempty"`
}

// LoggingConfig covers the slog sink.
type LoggingConfig struct {
	Level   string `json:"level"`              // trace|debug|info|warn|error|fatal
	ToFile  bool   `json:"to_file,omitempty"`  // rotating file sink
	FileDir string `json:"file_dir,omitempty"` // default: <adventures_dir>/../logs
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Exporter string `json:"exporter,omitempty"` // "http", "grpc", or "" (disabled)
	Endpoint string `json:"endpoint,omitempty"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
			MaxConnections: 100,
		},
		Adventure: AdventureConfig{
			AdventuresDir: "./adventures",
		},
		Agent: AgentConfig{
			InputTimeout: 90 * time.Second,
			MaxTurns:     30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
}

// Validate checks the whole config and returns a single error listing all
// violations, or nil.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.MaxConnections < 1 {
		problems = append(problems, fmt.Sprintf("MAX_CONNECTIONS must be positive, got %d", c.Server.MaxConnections))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		problems = append(problems, "ALLOWED_ORIGINS must not be empty")
	}
	if c.Adventure.AdventuresDir == "" {
		problems = append(problems, "ADVENTURES_DIR must not be empty")
	}
	if !validLogLevels[c.Logging.Level] {
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of trace|debug|info|warn|error|fatal, got %q", c.Logging.Level))
	}
	if c.Agent.InputTimeout <= 0 {
		problems = append(problems, "INPUT_TIMEOUT must be a positive duration")
	}
	switch c.Telemetry.Exporter {
	case "", "http", "grpc":
	default:
		problems = append(problems, fmt.Sprintf("OTEL_EXPORTER must be http or grpc, got %q", c.Telemetry.Exporter))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}
