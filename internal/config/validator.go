package config

import "fmt"

// Validate checks the configuration for invalid values
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", cfg.Gateway.Port)
	}

	if cfg.Sessions.IdleThresholdMinutes <= 0 {
		return fmt.Errorf("idle threshold must be positive, got %d", cfg.Sessions.IdleThresholdMinutes)
	}

	if cfg.Sessions.MaxToolRounds <= 0 {
		return fmt.Errorf("max tool rounds must be positive, got %d", cfg.Sessions.MaxToolRounds)
	}

	switch cfg.Credentials.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported provider: %s", cfg.Credentials.Provider)
	}

	if cfg.Sandbox.Enabled {
		switch cfg.Sandbox.Runtime {
		case "docker", "host":
		default:
			return fmt.Errorf("unsupported sandbox runtime: %s", cfg.Sandbox.Runtime)
		}
		if cfg.Sandbox.Runtime == "docker" && cfg.Sandbox.Image == "" {
			return fmt.Errorf("sandbox image is required for docker runtime")
		}
		if cfg.Sandbox.TimeoutSeconds <= 0 {
			return fmt.Errorf("sandbox timeout must be positive, got %d", cfg.Sandbox.TimeoutSeconds)
		}
	}

	return nil
}
