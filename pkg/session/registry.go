package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/internal/tracing"
	"github.com/harun/tiller/pkg/agent"
	"github.com/harun/tiller/pkg/credentials"
	"github.com/harun/tiller/pkg/sandbox"
	"github.com/harun/tiller/pkg/toolexec"
)

// ClientFactory builds an agent client from resolved credentials.
type ClientFactory func(credentials.Resolved) (agent.Client, error)

// SandboxFactory builds a sandbox for a session.
type SandboxFactory func(sandbox.Config) (sandbox.Sandbox, error)

// Options configures a Registry. Store, NewClient and NewSandbox
// default to the production implementations when nil. Executor is the
// base tool executor each new session's tool pipeline is built over.
type Options struct {
	Store          Store
	Resolver       *credentials.Resolver
	Executor       toolexec.BatchExecutor
	SandboxEnabled bool
	SandboxConfig  sandbox.Config
	NewClient      ClientFactory
	NewSandbox     SandboxFactory
}

// Registry owns the live session map.
type Registry struct {
	store          Store
	resolver       *credentials.Resolver
	executor       toolexec.BatchExecutor
	sandboxEnabled bool
	sandboxCfg     sandbox.Config
	newClient      ClientFactory
	newSandbox     SandboxFactory
}

// NewRegistry builds a registry from opts.
func NewRegistry(opts Options) *Registry {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.NewClient == nil {
		opts.NewClient = agent.New
	}
	if opts.NewSandbox == nil {
		opts.NewSandbox = sandbox.New
	}
	return &Registry{
		store:          opts.Store,
		resolver:       opts.Resolver,
		executor:       opts.Executor,
		sandboxEnabled: opts.SandboxEnabled,
		sandboxCfg:     opts.SandboxConfig,
		newClient:      opts.NewClient,
		newSandbox:     opts.NewSandbox,
	}
}

// Create resolves credentials, builds exactly one agent client bound
// to workingDir, and registers the session. Nothing is registered when
// resolution or client construction fails. Sandboxing is additive: a
// sandbox that fails to come up is logged and the session continues
// without one.
func (r *Registry) Create(ctx context.Context, ownerID string, creds credentials.Credentials, workingDir string) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, "session", "create")
	defer span.End()

	resolved, err := r.resolver.Resolve(creds)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	client, err := r.newClient(resolved)
	if err != nil {
		return nil, fmt.Errorf("build agent client: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:             id,
		OwnerID:        ownerID,
		Client:         client,
		WorkingDir:     workingDir,
		CreatedAt:      now,
		lastActivityAt: now,
	}

	if r.sandboxEnabled {
		sess.Sandbox = r.buildSandbox(ctx, id, workingDir)
	}
	if r.executor != nil {
		sess.Tools = toolexec.NewSandboxed(r.executor, sess.Sandbox)
	}

	r.store.Set(id, sess)
	observability.RecordSessionCreated()
	observability.SetActiveSessions(r.store.Len())

	log.Info().
		Str("session_id", id).
		Str("owner_id", ownerID).
		Str("provider", client.Provider()).
		Str("auth_mode", string(resolved.AuthMode)).
		Bool("sandboxed", sess.Sandbox != nil).
		Msg("Session created")

	return sess, nil
}

func (r *Registry) buildSandbox(ctx context.Context, sessionID, workingDir string) sandbox.Sandbox {
	cfg := r.sandboxCfg
	cfg.WorkDir = workingDir

	sb, err := r.newSandbox(cfg)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Sandbox unavailable, continuing without")
		return nil
	}
	if err := sb.Start(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Sandbox failed to start, continuing without")
		return nil
	}
	return sb
}

// Get returns the session and touches its activity timestamp.
func (r *Registry) Get(id string) (*Session, error) {
	sess, ok := r.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.Touch()
	return sess, nil
}

// Delete removes the session and stops its sandbox. Deleting an
// unknown id is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) {
	sess, ok := r.store.Get(id)
	if !ok {
		return
	}
	r.store.Delete(id)
	observability.SetActiveSessions(r.store.Len())

	if sess.Sandbox != nil {
		if err := sess.Sandbox.Stop(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Sandbox stop failed during delete")
		}
	}
	log.Info().Str("session_id", id).Msg("Session deleted")
}

// List returns the owner's sessions sorted by creation time.
func (r *Registry) List(ownerID string) []*Session {
	var out []*Session
	r.store.Iterate(func(id string, s *Session) bool {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats returns the per-session counters.
func (r *Registry) Stats(id string) (Stats, error) {
	sess, ok := r.store.Get(id)
	if !ok {
		return Stats{}, ErrSessionNotFound
	}
	return sess.Stats(), nil
}

// Sweep removes every session idle longer than maxIdle and returns
// how many were removed.
func (r *Registry) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	var stale []string
	r.store.Iterate(func(id string, s *Session) bool {
		if s.LastActivityAt().Before(cutoff) {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		r.Delete(ctx, id)
	}

	if len(stale) > 0 {
		log.Info().Int("removed", len(stale)).Dur("max_idle", maxIdle).Msg("Idle sessions swept")
	}
	observability.RecordSweep(len(stale))
	return len(stale)
}
