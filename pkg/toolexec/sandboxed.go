package toolexec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/pkg/sandbox"
)

// Extensions that mark a file-write target as source code. Used only
// for bookkeeping; the write itself is unchanged.
var sourceExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {},
	".rb": {}, ".rs": {}, ".java": {}, ".c": {}, ".h": {}, ".cpp": {},
	".sh": {}, ".sql": {},
}

// SandboxedExecutor decorates a base executor, rerouting shell
// execution into the session's sandbox. All other capabilities fall
// through. With no sandbox configured it is a transparent wrapper.
type SandboxedExecutor struct {
	base    BatchExecutor
	sandbox sandbox.Sandbox
}

// NewSandboxed wraps base. sb may be nil, in which case every request
// delegates unmodified.
func NewSandboxed(base BatchExecutor, sb sandbox.Sandbox) *SandboxedExecutor {
	return &SandboxedExecutor{base: base, sandbox: sb}
}

// ExecuteBatch intercepts shell requests, runs them in the sandbox,
// and merges their results with the base executor's responses for the
// remaining requests. The returned slice is index-aligned with reqs;
// a sandbox failure becomes that request's result, never the batch's.
func (s *SandboxedExecutor) ExecuteBatch(ctx context.Context, reqs []Request) []Response {
	if s.sandbox == nil {
		return s.base.ExecuteBatch(ctx, reqs)
	}

	responses := make([]Response, len(reqs))
	var passthrough []Request
	var passthroughIdx []int

	for i := range reqs {
		req := &reqs[i]

		if req.Capability == CapabilityShell {
			s.interceptShell(ctx, req)
		} else if req.Capability == CapabilityWriteFile {
			recordSourceWrite(req)
		}

		if req.annotation != nil {
			responses[i] = annotatedResponse(req)
			continue
		}
		passthrough = append(passthrough, *req)
		passthroughIdx = append(passthroughIdx, i)
	}

	if len(passthrough) > 0 {
		baseResponses := s.base.ExecuteBatch(ctx, passthrough)
		for j, idx := range passthroughIdx {
			responses[idx] = baseResponses[j]
		}
	}

	return responses
}

// interceptShell runs the request's command in the sandbox and leaves
// the outcome as an annotation. A request without a recognizable
// command is left untouched and falls through to the base executor.
func (s *SandboxedExecutor) interceptShell(ctx context.Context, req *Request) {
	command := extractCommand(req.Input)
	if command == "" {
		log.Warn().
			Str("call_id", req.CallID).
			Msg("Shell request without command, passing through")
		return
	}

	result, err := s.sandbox.Execute(ctx, command)
	if err != nil {
		log.Warn().Str("call_id", req.CallID).Err(err).Msg("Sandbox execution failed")
		observability.RecordSandboxExecution("error")
		req.annotation = &execAnnotation{output: err.Error(), exitCode: 1}
		return
	}

	output := result.Stdout
	if output == "" {
		output = result.Stderr
	}
	observability.RecordSandboxExecution("ok")
	req.annotation = &execAnnotation{output: output, exitCode: result.ExitCode}
}

// extractCommand reads the command string from either of the two
// argument shapes agents have used over time.
func extractCommand(input map[string]interface{}) string {
	for _, key := range []string{"command", "cmd"} {
		if v, ok := input[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func recordSourceWrite(req *Request) {
	path, ok := req.Input["path"].(string)
	if !ok {
		path, _ = req.Input["file_path"].(string)
	}
	if path == "" {
		return
	}
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := sourceExtensions[ext]; ok {
		observability.RecordSourceFileWrite(ext)
	}
}

func annotatedResponse(req *Request) Response {
	ann := req.annotation
	display := ann.output
	if display == "" {
		display = fmt.Sprintf("exit code %d", ann.exitCode)
	}

	resp := Response{
		CallID:        req.CallID,
		ResponseParts: []string{display},
		ResultDisplay: display,
	}
	if ann.exitCode != 0 {
		resp.Error = display
	}
	return resp
}
