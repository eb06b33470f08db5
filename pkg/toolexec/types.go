// Package toolexec executes batches of tool-call requests emitted by
// the agent. The base executor dispatches by capability name against
// host resources; the sandboxed variant intercepts shell execution and
// reroutes it into the session's sandbox.
package toolexec

import (
	"context"
	"errors"
)

// Capability names the executors dispatch on.
const (
	// CapabilityShell runs a shell command string.
	CapabilityShell = "shell"
	// CapabilityWriteFile writes content to a path.
	CapabilityWriteFile = "write_file"
	// CapabilityReadFile reads a file's content.
	CapabilityReadFile = "read_file"
)

// Request is one tool call from the agent. CallIDs are unique within
// one turn and correlate the response back to the call.
type Request struct {
	CallID     string                 `json:"call_id"`
	Capability string                 `json:"capability"`
	Input      map[string]interface{} `json:"input"`

	// annotation carries a completed sandbox execution through the
	// batch. It never leaves the package.
	annotation *execAnnotation
}

type execAnnotation struct {
	output   string
	exitCode int
}

// Response is the outcome of one request. ResponseParts feed back into
// the agent as continuation input; ResultDisplay is the human-readable
// summary shown to the connected client.
type Response struct {
	CallID        string   `json:"call_id"`
	ResponseParts []string `json:"response_parts"`
	ResultDisplay string   `json:"result_display"`
	Error         string   `json:"error,omitempty"`
}

// Handler executes one capability. The returned string is both the
// display summary and the continuation content.
type Handler func(ctx context.Context, input map[string]interface{}) (string, error)

// BatchExecutor resolves a batch of requests into exactly one response
// per request, in request order. Execution within the batch may be
// concurrent; a partial batch is never a valid result.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, reqs []Request) []Response
}

var (
	// ErrToolNotFound is returned when no handler is registered for a capability.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidDefinition is returned when a tool definition is incomplete.
	ErrInvalidDefinition = errors.New("invalid tool definition")
)
