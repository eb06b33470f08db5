package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/tiller/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file populated with defaults.
Edit the file afterwards to set service credentials, the gateway
auth token, and sandbox settings.`,
	RunE: runConfigure,
}

var configureForce bool

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	existing, err := loader.Load()
	if err == nil && !configureForce && existing.Credentials.APIKey != "" {
		return fmt.Errorf("config already has credentials set, re-run with --force to overwrite")
	}

	cfg := config.DefaultConfig()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to: %s\n", loader.ConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "Start the gateway with: tiller serve")
	return nil
}
