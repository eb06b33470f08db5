// Package chat drives one logical send-message operation against a
// session's agent client: streaming output to the transport, executing
// requested tools, and feeding results back into the model until a
// round produces no further tool requests.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/internal/tracing"
	"github.com/harun/tiller/pkg/agent"
	"github.com/harun/tiller/pkg/session"
	"github.com/harun/tiller/pkg/toolexec"
)

// DefaultMaxToolRounds bounds tool-driven continuations per turn. An
// agent that requests tools past the cap terminates the turn with an
// error instead of looping forever.
const DefaultMaxToolRounds = 16

// ErrToolRoundsExceeded terminates a turn whose agent keeps requesting
// tools past the configured cap.
var ErrToolRoundsExceeded = errors.New("tool round limit exceeded")

// Emitter receives the transport events of one turn. Implementations
// are called from the turn's goroutine in event order: chunks in
// generation order, each tool call before its result, and exactly one
// terminal Complete or Error per turn.
type Emitter interface {
	EmitChunk(text string)
	EmitToolCall(name string, args map[string]interface{})
	EmitToolResult(name, result string)
	EmitComplete()
	EmitError(message string)
}

// Adapter turns agent streams into transport events.
type Adapter struct {
	executor      *toolexec.Executor
	systemPrompt  string
	maxToolRounds int
}

// NewAdapter builds an adapter over the base tool executor. rounds <= 0
// selects DefaultMaxToolRounds.
func NewAdapter(executor *toolexec.Executor, systemPrompt string, rounds int) *Adapter {
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	return &Adapter{
		executor:      executor,
		systemPrompt:  systemPrompt,
		maxToolRounds: rounds,
	}
}

// SendTurn runs one turn to its terminal event. Cancelling ctx resolves
// the turn as complete, not as an error. The returned error mirrors the
// terminal event for the caller's logging; the emitter has always seen
// the terminal event by the time SendTurn returns.
func (a *Adapter) SendTurn(ctx context.Context, sess *session.Session, message string, emitter Emitter) error {
	turnID := uuid.NewString()
	ctx = tracing.WithTurnID(ctx, turnID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "chat", "send_turn")
	defer span.End()

	// The session fixed its tool pipeline at creation; only sessions
	// assembled by hand arrive without one.
	executor := sess.Tools
	if executor == nil {
		executor = toolexec.NewSandboxed(a.executor, sess.Sandbox)
	}
	tools := a.executor.AgentTools()

	sess.Touch()
	sess.AppendHistory(agent.Message{Role: agent.RoleUser, Content: message})

	rounds := 0
	for {
		calls, streamErr := a.streamOnce(ctx, sess, tools, emitter, rounds > 0)

		if streamErr != nil {
			if isAbort(ctx, streamErr) {
				logger.Debug().Str("turn_id", turnID).Msg("Turn cancelled")
				observability.RecordTurn("cancelled", time.Since(start))
				emitter.EmitComplete()
				return nil
			}
			logger.Warn().Err(streamErr).Str("turn_id", turnID).Msg("Turn failed")
			observability.RecordTurn("error", time.Since(start))
			emitter.EmitError(streamErr.Error())
			return streamErr
		}

		if len(calls) == 0 {
			observability.RecordTurn("ok", time.Since(start))
			emitter.EmitComplete()
			return nil
		}

		if ctx.Err() != nil {
			observability.RecordTurn("cancelled", time.Since(start))
			emitter.EmitComplete()
			return nil
		}

		if rounds >= a.maxToolRounds {
			err := fmt.Errorf("%w: %d rounds", ErrToolRoundsExceeded, rounds)
			logger.Warn().Str("turn_id", turnID).Int("rounds", rounds).Msg("Tool round cap hit")
			observability.RecordToolRoundCapExceeded()
			observability.RecordTurn("error", time.Since(start))
			emitter.EmitError(err.Error())
			return err
		}
		rounds++
		observability.RecordToolRound()

		a.executeRound(ctx, sess, executor, calls, emitter)
	}
}

// streamOnce opens one streaming call over the current history and
// consumes it to the end, emitting chunks and tool-call announcements
// as they arrive. The assistant message is appended to history before
// returning.
func (a *Adapter) streamOnce(ctx context.Context, sess *session.Session, tools []agent.ToolDefinition, emitter Emitter, continuation bool) ([]agent.ToolCall, error) {
	req := agent.Request{
		System:   a.systemPrompt,
		Messages: sess.History(),
		Tools:    tools,
	}

	stream, err := sess.Client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		text  strings.Builder
		calls []agent.ToolCall
	)
	for ev := range stream {
		switch {
		case ev.Err != nil:
			// Partial progress already streamed stays emitted.
			a.appendAssistant(sess, text.String(), calls)
			return nil, ev.Err
		case ev.Text != "":
			emitter.EmitChunk(ev.Text)
			text.WriteString(ev.Text)
		case ev.ToolCall != nil:
			calls = append(calls, *ev.ToolCall)
			emitter.EmitToolCall(ev.ToolCall.Name, decodeArgs(ev.ToolCall.Input))
		}
	}

	a.appendAssistant(sess, text.String(), calls)
	log.Debug().
		Bool("continuation", continuation).
		Int("tool_calls", len(calls)).
		Msg("Stream round finished")
	return calls, nil
}

func (a *Adapter) appendAssistant(sess *session.Session, text string, calls []agent.ToolCall) {
	if text == "" && len(calls) == 0 {
		return
	}
	sess.AppendHistory(agent.Message{
		Role:      agent.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
	})
}

// executeRound runs the accumulated tool calls as one batch, emits a
// result per response, and appends the flattened responses to history
// as the continuation input.
func (a *Adapter) executeRound(ctx context.Context, sess *session.Session, executor toolexec.BatchExecutor, calls []agent.ToolCall, emitter Emitter) {
	reqs := make([]toolexec.Request, len(calls))
	for i, call := range calls {
		reqs[i] = toolexec.Request{
			CallID:     call.ID,
			Capability: call.Name,
			Input:      decodeArgs(call.Input),
		}
	}

	responses := executor.ExecuteBatch(ctx, reqs)

	results := make([]agent.ToolResult, len(responses))
	for i, resp := range responses {
		emitter.EmitToolResult(calls[i].Name, displayFor(resp))

		results[i] = agent.ToolResult{
			ToolCallID: resp.CallID,
			Content:    strings.Join(resp.ResponseParts, "\n"),
			IsError:    resp.Error != "",
		}
	}

	sess.AppendHistory(agent.Message{Role: agent.RoleUser, ToolResults: results})
}

// displayFor picks the human-readable summary for a tool result:
// display text, then error text, then a generic marker.
func displayFor(resp toolexec.Response) string {
	if resp.ResultDisplay != "" {
		return resp.ResultDisplay
	}
	if resp.Error != "" {
		return resp.Error
	}
	return "completed"
}

func decodeArgs(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		log.Warn().Err(err).Msg("Tool call input is not a JSON object")
		return map[string]interface{}{}
	}
	return args
}

func isAbort(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled
}
