package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckDocker verifies that the Docker daemon is available and responsive.
func CheckDocker() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "ps", "-q")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker is not available or not running: %w", err)
	}
	return nil
}

// DockerSandbox runs each command in an ephemeral container. Nothing
// persists between executions; the work directory, when set, is bind
// mounted so file tools and shell commands see the same tree.
type DockerSandbox struct {
	config  Config
	running bool
	mu      sync.RWMutex
}

// NewDockerSandbox creates a new Docker-based sandbox.
func NewDockerSandbox(config Config) (*DockerSandbox, error) {
	if config.Runtime == "" {
		config.Runtime = RuntimeDocker
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &DockerSandbox{config: config}, nil
}

// Start verifies the daemon and marks the sandbox ready.
func (d *DockerSandbox) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrSandboxAlreadyRunning
	}
	if err := CheckDocker(); err != nil {
		return err
	}

	log.Info().
		Str("runtime", string(RuntimeDocker)).
		Str("image", d.config.Image).
		Str("network", d.config.Network).
		Msg("Starting docker sandbox")

	d.running = true
	return nil
}

// Stop marks the Docker sandbox as stopped.
func (d *DockerSandbox) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping docker sandbox")
	d.running = false
	return nil
}

// IsRunning returns whether the sandbox is currently running.
func (d *DockerSandbox) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Execute runs a shell command string inside an ephemeral container.
func (d *DockerSandbox) Execute(ctx context.Context, command string) (Result, error) {
	d.mu.RLock()
	if !d.running {
		d.mu.RUnlock()
		return Result{}, ErrSandboxNotRunning
	}
	cfg := d.config
	d.mu.RUnlock()

	if strings.TrimSpace(command) == "" {
		return Result{}, ErrEmptyCommand
	}

	execCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, "docker", buildRunArgs(cfg, command)...)

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
			return Result{}, fmt.Errorf("docker run: %w", err)
		}
	}

	log.Debug().
		Str("runtime", string(RuntimeDocker)).
		Str("image", cfg.Image).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Command executed in docker sandbox")

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func buildRunArgs(cfg Config, command string) []string {
	args := []string{"run", "--rm", "--init"}

	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = "none"
	}
	args = append(args, "--network", network)

	if wd := strings.TrimSpace(cfg.WorkDir); wd != "" {
		clean := filepath.Clean(wd)
		args = append(args, "-v", fmt.Sprintf("%s:%s:rw", clean, clean))
		args = append(args, "-w", clean)
	}

	return append(args, cfg.Image, "sh", "-c", command)
}
