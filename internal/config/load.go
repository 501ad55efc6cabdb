package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Load builds the effective config: defaults, then the optional JSON5 file,
// then env vars on top. The file path comes from the argument, falling back
// to $FABLE_CONFIG; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FABLE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env values take
// precedence over file values. Unparseable numerics are left in place so
// Validate reports them against the pre-override value... except PORT and
// MAX_CONNECTIONS, which poison the field to force a validation failure.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("HOST", &c.Server.Host)
	envStr("ADVENTURES_DIR", &c.Adventure.AdventuresDir)
	envStr("PROJECT_DIR", &c.Adventure.ProjectDir)
	envStr("STATIC_ROOT", &c.Server.StaticRoot)
	envStr("LOG_LEVEL", &c.Logging.Level)
	envStr("FABLE_AGENT_BIN", &c.Agent.Bin)
	envStr("FABLE_AGENT_API_KEY", &c.Agent.APIKey)
	envStr("OTEL_EXPORTER", &c.Telemetry.Exporter)
	envStr("OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	envBool("LOG_FILE", &c.Logging.ToFile)
	envBool("MOCK_SDK", &c.Agent.Mock)

	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Server.Production = v == "production"
	}

	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1 // force validation failure with the offending key
		}
		c.Server.Port = n
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		c.Server.MaxConnections = n
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("INPUT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Agent.InputTimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.Agent.InputTimeout = time.Duration(secs) * time.Second
		} else {
			c.Agent.InputTimeout = -1
		}
	}
}
