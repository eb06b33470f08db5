package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/pkg/agent"
)

// Parameter describes one input field of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition registers a capability with its input contract.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Executor is the base batch executor: a handler registry keyed by
// capability name with JSON-schema input validation.
type Executor struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates an empty executor. perToolTimeout bounds each handler;
// zero means no bound beyond the batch context.
func New(perToolTimeout time.Duration) *Executor {
	return &Executor{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: perToolTimeout,
	}
}

// Register adds a tool. Re-registering a name replaces the previous
// definition.
func (e *Executor) Register(def Definition) error {
	if def.Name == "" || def.Description == "" || def.Handler == nil {
		return ErrInvalidDefinition
	}
	for _, p := range def.Parameters {
		switch p.Type {
		case "string", "number", "integer", "boolean", "object", "array":
		default:
			return fmt.Errorf("%w: parameter %s has invalid type %q", ErrInvalidDefinition, p.Name, p.Type)
		}
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// ListTools returns the registered capability names, sorted.
func (e *Executor) ListTools() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AgentTools converts the registry into the definitions offered to the
// model on each turn.
func (e *Executor) AgentTools() []agent.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]agent.ToolDefinition, 0, len(names))
	for _, name := range names {
		def := e.tools[name]
		defs = append(defs, agent.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schemaJSON(def),
		})
	}
	return defs
}

// ExecuteBatch runs every request and returns one response per
// request, index-aligned with the input. Requests run concurrently;
// a failed request produces an error response without affecting its
// siblings.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []Request) []Response {
	responses := make([]Response, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			responses[i] = e.executeOne(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return responses
}

func (e *Executor) executeOne(ctx context.Context, req Request) Response {
	start := time.Now()

	e.mu.RLock()
	tool := e.tools[req.Capability]
	schema := e.schemas[req.Capability]
	e.mu.RUnlock()

	if tool == nil {
		log.Warn().Str("capability", req.Capability).Str("call_id", req.CallID).Msg("Tool not found")
		observability.RecordToolExecution(req.Capability, "not_found", time.Since(start))
		return errorResponse(req, fmt.Sprintf("%v: %s", ErrToolNotFound, req.Capability))
	}

	if err := validateInput(schema, req.Input); err != nil {
		log.Warn().Str("capability", req.Capability).Err(err).Msg("Tool input validation failed")
		observability.RecordToolExecution(req.Capability, "invalid_input", time.Since(start))
		return errorResponse(req, fmt.Sprintf("invalid input: %v", err))
	}

	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	output, err := tool.Handler(execCtx, req.Input)
	duration := time.Since(start)

	if err != nil {
		log.Warn().
			Str("capability", req.Capability).
			Str("call_id", req.CallID).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		observability.RecordToolExecution(req.Capability, "error", duration)
		return errorResponse(req, err.Error())
	}

	log.Debug().
		Str("capability", req.Capability).
		Str("call_id", req.CallID).
		Dur("duration", duration).
		Msg("Tool executed")
	observability.RecordToolExecution(req.Capability, "ok", duration)

	return Response{
		CallID:        req.CallID,
		ResponseParts: []string{output},
		ResultDisplay: output,
	}
}

func errorResponse(req Request, msg string) Response {
	return Response{
		CallID:        req.CallID,
		ResponseParts: []string{msg},
		ResultDisplay: msg,
		Error:         msg,
	}
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON(&def)))
}

func schemaJSON(def *Definition) json.RawMessage {
	properties := make(map[string]interface{}, len(def.Parameters))
	var required []string
	for _, p := range def.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}

func validateInput(schema *gojsonschema.Schema, input map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}
