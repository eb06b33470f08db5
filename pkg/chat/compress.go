package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harun/tiller/pkg/agent"
	"github.com/harun/tiller/pkg/session"
)

const compressPrompt = "Summarize the conversation so far, keeping every fact, decision, " +
	"file path, and open task needed to continue it. Reply with the summary only."

// ErrNothingToCompress is returned when the session has no history.
var ErrNothingToCompress = errors.New("nothing to compress")

// CompressionResult reports the token accounting of one compression.
// Nothing is cached; each call recomputes from the live history.
type CompressionResult struct {
	TokensBefore int     `json:"tokensBeforeCompression"`
	TokensAfter  int     `json:"tokensAfterCompression"`
	Ratio        float64 `json:"compressionRatio"`
}

// History returns the session's conversation as-is.
func (a *Adapter) History(sess *session.Session) []agent.Message {
	return sess.History()
}

// Compress asks the session's agent to summarize its history and
// replaces the history with the summary.
func (a *Adapter) Compress(ctx context.Context, sess *session.Session) (CompressionResult, error) {
	history := sess.History()
	if len(history) == 0 {
		return CompressionResult{}, ErrNothingToCompress
	}
	before := agent.EstimateTokens(history)

	req := agent.Request{
		System:   "You compress conversation history.",
		Messages: append(history, agent.Message{Role: agent.RoleUser, Content: compressPrompt}),
	}
	stream, err := sess.Client.Stream(ctx, req)
	if err != nil {
		return CompressionResult{}, fmt.Errorf("compress history: %w", err)
	}

	var summary strings.Builder
	for ev := range stream {
		if ev.Err != nil {
			return CompressionResult{}, fmt.Errorf("compress history: %w", ev.Err)
		}
		summary.WriteString(ev.Text)
	}
	if summary.Len() == 0 {
		return CompressionResult{}, errors.New("compress history: empty summary")
	}

	compacted := []agent.Message{{
		Role:    agent.RoleUser,
		Content: "Summary of the conversation so far:\n" + summary.String(),
	}}
	sess.ReplaceHistory(compacted)

	after := agent.EstimateTokens(compacted)
	ratio := 0.0
	if before > 0 {
		ratio = float64(after) / float64(before)
	}

	log.Info().
		Str("session_id", sess.ID).
		Int("tokens_before", before).
		Int("tokens_after", after).
		Msg("History compressed")

	return CompressionResult{TokensBefore: before, TokensAfter: after, Ratio: ratio}, nil
}
