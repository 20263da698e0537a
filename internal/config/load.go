package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets exist only here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("LEADLINE_ANTHROPIC_API_KEY", &c.Agent.APIKey)
	envStr("LEADLINE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("LEADLINE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("LEADLINE_GATEWAY_HOST", &c.Gateway.Host)
	envStr("LEADLINE_WS_URL", &c.Transport.WSURL)
	envStr("LEADLINE_MODEL", &c.Agent.Model)
	envStr("LEADLINE_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("LEADLINE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
}
