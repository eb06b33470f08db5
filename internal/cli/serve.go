package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/tiller/internal/config"
	"github.com/harun/tiller/internal/logger"
	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/internal/tracing"
	"github.com/harun/tiller/pkg/chat"
	"github.com/harun/tiller/pkg/credentials"
	"github.com/harun/tiller/pkg/gateway"
	"github.com/harun/tiller/pkg/sandbox"
	"github.com/harun/tiller/pkg/session"
	"github.com/harun/tiller/pkg/toolexec"
)

const defaultSystemPrompt = `You are a helpful assistant with access to tools.
Use the shell, read_file and write_file tools to inspect and modify the
workspace when the user asks you to. Keep answers concise.`

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Tiller gateway in the foreground",
	Long: `Run the Tiller gateway service in the foreground.
The gateway accepts WebSocket connections for chat turns and a REST
API for session management. Stop it with Ctrl+C.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	log := lg.Zerolog()

	observability.EnsureRegistered()

	if err := tracing.InitOpenTelemetry("tiller"); err != nil {
		log.Warn().Err(err).Msg("OpenTelemetry init failed, tracing disabled")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := credentials.NewTokenStore(cfg.Credentials.TokenFile)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	defer store.Close()
	if err := store.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("token file watch unavailable, tokens load once at startup")
	}
	resolver := credentials.NewResolver(cfg.Credentials, store)

	workspaceDir := filepath.Join(cfg.DataDir, "workspace")
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	executor := toolexec.New(cfg.Sandbox.Timeout())
	if err := toolexec.RegisterBuiltins(executor, workspaceDir); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	registry := session.NewRegistry(session.Options{
		Resolver:       resolver,
		Executor:       executor,
		SandboxEnabled: cfg.Sandbox.Enabled,
		SandboxConfig: sandbox.Config{
			Runtime: sandbox.Runtime(cfg.Sandbox.Runtime),
			Image:   cfg.Sandbox.Image,
			Network: cfg.Sandbox.Network,
			Timeout: cfg.Sandbox.Timeout(),
		},
	})

	sweeper := session.NewSweeper(registry, cfg.Sessions.SweepSchedule, cfg.Sessions.IdleThreshold())
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}
	defer sweeper.Stop()

	adapter := chat.NewAdapter(executor, defaultSystemPrompt, cfg.Sessions.MaxToolRounds)

	srv, err := gateway.NewServer(gateway.Config{
		Host:      cfg.Gateway.Host,
		Port:      cfg.Gateway.Port,
		AuthToken: cfg.Gateway.AuthToken,
		Sessions:  registry,
		Adapter:   adapter,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	log.Info().
		Str("host", cfg.Gateway.Host).
		Int("port", cfg.Gateway.Port).
		Bool("sandbox", cfg.Sandbox.Enabled).
		Msg("tiller gateway started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	return nil
}
