// Package sandbox provides per-session isolated execution of shell
// commands. Two runtimes are supported: docker runs each command in an
// ephemeral container, host runs it in a subprocess with a minimal
// environment. Sessions that enable sandboxing get their own instance;
// the instance lives and dies with the session.
package sandbox

import (
	"context"
	"time"
)

// Runtime selects the isolation backend.
type Runtime string

const (
	// RuntimeDocker runs commands in ephemeral Docker containers.
	RuntimeDocker Runtime = "docker"
	// RuntimeHost runs commands as host subprocesses.
	RuntimeHost Runtime = "host"
)

// Config defines how a sandbox instance executes commands.
type Config struct {
	// Runtime selects the isolation backend (docker, host).
	Runtime Runtime `json:"runtime"`

	// Image is the container image for the docker runtime.
	Image string `json:"image"`

	// Network is the docker network mode. Empty means no network.
	Network string `json:"network"`

	// WorkDir is the working directory commands run in.
	WorkDir string `json:"work_dir"`

	// Timeout bounds each command execution.
	Timeout time.Duration `json:"timeout"`
}

// Result is the outcome of one command execution. A non-zero exit code
// is a normal outcome, not an error.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Sandbox executes shell command strings in isolation. Execute runs
// the command through the runtime's shell, so pipes and redirections
// behave as they would interactively.
type Sandbox interface {
	Execute(ctx context.Context, command string) (Result, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// DefaultConfig returns the sandbox defaults used when a session
// enables sandboxing without overrides.
func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeDocker,
		Image:   "alpine:3.20",
		Network: "none",
		Timeout: 30 * time.Second,
	}
}

// New builds a sandbox for the configured runtime.
func New(cfg Config) (Sandbox, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Runtime {
	case RuntimeDocker:
		return NewDockerSandbox(cfg)
	case RuntimeHost:
		return NewHostSandbox(cfg)
	default:
		return nil, ErrInvalidRuntime
	}
}

// ValidateConfig validates a sandbox configuration.
func ValidateConfig(cfg Config) error {
	switch cfg.Runtime {
	case RuntimeDocker:
		if cfg.Image == "" {
			return ErrDockerImageRequired
		}
	case RuntimeHost:
		// Valid
	default:
		return ErrInvalidRuntime
	}

	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}

	return nil
}
