package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Gateway.Port = 0 },
			wantErr: "invalid gateway port",
		},
		{
			name:    "zero idle threshold",
			mutate:  func(c *Config) { c.Sessions.IdleThresholdMinutes = 0 },
			wantErr: "idle threshold",
		},
		{
			name:    "zero round cap",
			mutate:  func(c *Config) { c.Sessions.MaxToolRounds = 0 },
			wantErr: "max tool rounds",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Credentials.Provider = "cohere" },
			wantErr: "unsupported provider",
		},
		{
			name: "docker sandbox without image",
			mutate: func(c *Config) {
				c.Sandbox.Enabled = true
				c.Sandbox.Image = ""
			},
			wantErr: "sandbox image",
		},
		{
			name: "bad sandbox runtime",
			mutate: func(c *Config) {
				c.Sandbox.Enabled = true
				c.Sandbox.Runtime = "chroot"
			},
			wantErr: "unsupported sandbox runtime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	assert.Error(t, Validate(nil))
}
