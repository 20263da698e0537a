// Package config holds the server configuration: a JSON5 file overlaid with
// LEADLINE_* environment variables. Secrets only ever come from the
// environment, never from the file.
package config

import "fmt"

// Config is the root configuration for the leadline server.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Transport TransportConfig `json:"transport"`
	Agent     AgentConfig     `json:"agent"`
	Log       LogConfig       `json:"log,omitempty"`
}

// GatewayConfig configures the admin websocket server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env LEADLINE_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// Addr returns the listen address.
func (g GatewayConfig) Addr() string { return fmt.Sprintf("%s:%d", g.Host, g.Port) }

// DatabaseConfig selects the persistence backend.
// PostgresDSN is never read from the config file, only from the env var
// LEADLINE_POSTGRES_DSN. Empty DSN means in-memory stores (dev runs).
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// TransportConfig configures the messaging-network edge connection.
type TransportConfig struct {
	WSURL     string `json:"ws_url"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AgentConfig configures the reasoning collaborator.
type AgentConfig struct {
	APIKey    string `json:"-"` // from env LEADLINE_ANTHROPIC_API_KEY only
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Composing bool   `json:"composing,omitempty"` // typing indicator before an AI pass
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
		Transport: TransportConfig{
			WSURL:     "wss://edge.leadline.io/v1/ws",
			UserAgent: "leadline/1.0",
		},
		Agent: AgentConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1024,
			Composing: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
