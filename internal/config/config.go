package config

import "time"

// Config represents the main Tiller configuration
type Config struct {
	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Sessions configuration
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Credentials holds defaults for the default-service-key login mode
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`

	// Sandbox configuration
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	AuthToken string `json:"auth_token" mapstructure:"auth_token"`
}

// SessionsConfig holds session registry configuration
type SessionsConfig struct {
	// IdleThresholdMinutes is how long a session may stay untouched
	// before the sweeper removes it.
	IdleThresholdMinutes int `json:"idle_threshold_minutes" mapstructure:"idle_threshold_minutes"`

	// SweepSchedule is a cron expression for the idle sweeper.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`

	// MaxToolRounds caps tool-call continuation rounds per turn.
	MaxToolRounds int `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
}

// CredentialsConfig holds service-level model credentials used when a
// session is created with the default-service-key login mode, plus the
// location of the persisted OAuth token file.
type CredentialsConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // anthropic, openai
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	TokenFile string `json:"token_file" mapstructure:"token_file"`
}

// SandboxConfig defines sandbox settings for tenant shell execution
type SandboxConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	Runtime        string `json:"runtime" mapstructure:"runtime"` // docker, host
	Image          string `json:"image" mapstructure:"image"`
	Network        string `json:"network" mapstructure:"network"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// IdleThreshold returns the sweep threshold as a duration.
func (s SessionsConfig) IdleThreshold() time.Duration {
	return time.Duration(s.IdleThresholdMinutes) * time.Minute
}

// Timeout returns the sandbox execution timeout as a duration.
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18789,
		},
		Sessions: SessionsConfig{
			IdleThresholdMinutes: 60,
			SweepSchedule:        "@hourly",
			MaxToolRounds:        16,
		},
		Credentials: CredentialsConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
		},
		Sandbox: SandboxConfig{
			Enabled:        false,
			Runtime:        "docker",
			Image:          "alpine:3.20",
			Network:        "none",
			TimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
	}
}
