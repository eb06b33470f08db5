package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tiller/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("writes default config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tiller.json")
		cfgFile = path
		defer func() { cfgFile = "" }()

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"configure"})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		assert.Contains(t, output.String(), path)

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, 18789, cfg.Gateway.Port)
		assert.Equal(t, "anthropic", cfg.Credentials.Provider)
	})

	t.Run("refuses to overwrite configured credentials", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tiller.json")
		cfgFile = path
		defer func() { cfgFile = "" }()

		seeded := config.DefaultConfig()
		seeded.Credentials.APIKey = "sk-live-123"
		require.NoError(t, config.NewLoader(path).Save(seeded))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"configure"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--force")

		cfg, err := config.NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-live-123", cfg.Credentials.APIKey)
	})
}
