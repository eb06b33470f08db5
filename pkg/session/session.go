// Package session owns the map of live agent sessions: creation from
// resolved credentials, lookup with activity tracking, deletion, and
// idle eviction on a background schedule.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/harun/tiller/pkg/agent"
	"github.com/harun/tiller/pkg/sandbox"
	"github.com/harun/tiller/pkg/toolexec"
)

var (
	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one live agent instance. Exactly one client and at most
// one sandbox exist per session for its entire lifetime; neither is
// ever shared across sessions.
type Session struct {
	ID         string
	OwnerID    string
	Client     agent.Client
	Sandbox    sandbox.Sandbox
	WorkingDir string
	CreatedAt  time.Time

	// Tools is the executor every turn of this session runs its tool
	// batches through. The sandbox-or-plain decision is made here, at
	// creation, and never revisited for the session's lifetime.
	Tools toolexec.BatchExecutor

	mu             sync.Mutex
	lastActivityAt time.Time
	history        []agent.Message
}

// LastActivityAt returns the time of the most recent lookup or turn.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Touch moves the activity timestamp to now.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// History returns a copy of the conversation so far.
func (s *Session) History() []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Message, len(s.history))
	copy(out, s.history)
	return out
}

// AppendHistory adds messages to the conversation.
func (s *Session) AppendHistory(msgs ...agent.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

// ReplaceHistory swaps the conversation wholesale. Used by history
// compression.
func (s *Session) ReplaceHistory(msgs []agent.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = msgs
}

// Stats summarizes a session for the lifecycle API.
type Stats struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	MessageCount    int       `json:"message_count"`
	EstimatedTokens int       `json:"estimated_tokens"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Stats computes the session's current counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:              s.ID,
		OwnerID:         s.OwnerID,
		MessageCount:    len(s.history),
		EstimatedTokens: agent.EstimateTokens(s.history),
		CreatedAt:       s.CreatedAt,
		LastActivityAt:  s.lastActivityAt,
	}
}
