package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HostSandbox runs commands as host subprocesses with a stripped-down
// environment. It trades isolation strength for zero setup; intended
// for deployments where Docker is unavailable.
type HostSandbox struct {
	config  Config
	running bool
	mu      sync.RWMutex
}

// NewHostSandbox creates a new host-based sandbox.
func NewHostSandbox(config Config) (*HostSandbox, error) {
	if config.Runtime == "" {
		config.Runtime = RuntimeHost
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HostSandbox{config: config}, nil
}

// Start marks the sandbox ready.
func (h *HostSandbox) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrSandboxAlreadyRunning
	}

	log.Info().
		Str("runtime", string(RuntimeHost)).
		Msg("Starting host sandbox")

	h.running = true
	return nil
}

// Stop marks the sandbox as stopped.
func (h *HostSandbox) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping host sandbox")
	h.running = false
	return nil
}

// IsRunning returns whether the sandbox is running.
func (h *HostSandbox) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Execute runs a shell command string in a subprocess.
func (h *HostSandbox) Execute(ctx context.Context, command string) (Result, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return Result{}, ErrSandboxNotRunning
	}
	cfg := h.config
	h.mu.RUnlock()

	if strings.TrimSpace(command) == "" {
		return Result{}, ErrEmptyCommand
	}

	execCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			Duration: duration,
		}, ErrExecutionTimeout
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("run command: %w", err)
		}
	}

	log.Debug().
		Str("runtime", string(RuntimeHost)).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Command executed in host sandbox")

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
