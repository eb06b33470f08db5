package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RegisterBuiltins installs the host-side capabilities: shell, file
// read and file write. Paths are confined to workDir.
func RegisterBuiltins(e *Executor, workDir string) error {
	defs := []Definition{
		{
			Name:        CapabilityShell,
			Description: "Run a shell command and return its output",
			Parameters: []Parameter{
				{Name: "command", Type: "string", Description: "Command to run", Required: true},
			},
			Handler: shellHandler(workDir),
		},
		{
			Name:        CapabilityReadFile,
			Description: "Read a file and return its content",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
			},
			Handler: readFileHandler(workDir),
		},
		{
			Name:        CapabilityWriteFile,
			Description: "Write content to a file, creating parent directories",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "File path relative to the working directory", Required: true},
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
			},
			Handler: writeFileHandler(workDir),
		},
	}

	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func shellHandler(workDir string) Handler {
	return func(ctx context.Context, input map[string]interface{}) (string, error) {
		command := extractCommand(input)
		if command == "" {
			return "", fmt.Errorf("command is required")
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = workDir

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		output := stdout.String()
		if output == "" {
			output = stderr.String()
		}
		if err != nil {
			if output != "" {
				return "", fmt.Errorf("%s", strings.TrimSpace(output))
			}
			return "", err
		}
		return output, nil
	}
}

func readFileHandler(workDir string) Handler {
	return func(ctx context.Context, input map[string]interface{}) (string, error) {
		path, err := resolvePath(workDir, input)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(data), nil
	}
}

func writeFileHandler(workDir string) Handler {
	return func(ctx context.Context, input map[string]interface{}) (string, error) {
		path, err := resolvePath(workDir, input)
		if err != nil {
			return "", err
		}
		content, _ := input["content"].(string)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create parent dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write file: %w", err)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
	}
}

// resolvePath joins the request path with the working directory and
// rejects traversal outside of it.
func resolvePath(workDir string, input map[string]interface{}) (string, error) {
	raw, ok := input["path"].(string)
	if !ok || raw == "" {
		raw, _ = input["file_path"].(string)
	}
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}

	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	path = filepath.Clean(path)

	if workDir != "" {
		rel, err := filepath.Rel(workDir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path %q escapes the working directory", raw)
		}
	}
	return path, nil
}
