package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tiller/internal/config"
	"github.com/harun/tiller/pkg/agent"
	"github.com/harun/tiller/pkg/credentials"
	"github.com/harun/tiller/pkg/sandbox"
	"github.com/harun/tiller/pkg/toolexec"
)

type fakeClient struct {
	model string
}

func (f *fakeClient) Stream(ctx context.Context, req agent.Request) (<-chan agent.StreamEvent, error) {
	ch := make(chan agent.StreamEvent)
	close(ch)
	return ch, nil
}
func (f *fakeClient) Model() string    { return f.model }
func (f *fakeClient) Provider() string { return "anthropic" }

type trackingSandbox struct {
	started  bool
	stopped  bool
	commands []string
}

func (s *trackingSandbox) Execute(ctx context.Context, command string) (sandbox.Result, error) {
	s.commands = append(s.commands, command)
	return sandbox.Result{Stdout: "ok"}, nil
}
func (s *trackingSandbox) Start(ctx context.Context) error { s.started = true; return nil }
func (s *trackingSandbox) Stop(ctx context.Context) error  { s.stopped = true; return nil }
func (s *trackingSandbox) IsRunning() bool                 { return s.started && !s.stopped }

type stubBatchExecutor struct {
	calls int
}

func (s *stubBatchExecutor) ExecuteBatch(ctx context.Context, reqs []toolexec.Request) []toolexec.Response {
	s.calls++
	out := make([]toolexec.Response, len(reqs))
	for i, r := range reqs {
		out[i] = toolexec.Response{CallID: r.CallID}
	}
	return out
}

func testResolver() *credentials.Resolver {
	return credentials.NewResolver(config.CredentialsConfig{
		Provider: "anthropic",
		Endpoint: "api.anthropic.com",
		APIKey:   "sk-ant-platform",
		Model:    "claude-sonnet-4-20250514",
	}, nil)
}

func newTestRegistry(t *testing.T, mutate func(*Options)) *Registry {
	t.Helper()
	opts := Options{
		Resolver: testResolver(),
		NewClient: func(res credentials.Resolved) (agent.Client, error) {
			return &fakeClient{model: res.Model}, nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRegistry(opts)
}

func defaultCreds() credentials.Credentials {
	return credentials.Credentials{Default: &credentials.DefaultServiceKey{}}
}

func TestCreateRegistersSession(t *testing.T) {
	r := newTestRegistry(t, nil)

	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "owner-1", sess.OwnerID)
	assert.Equal(t, "/work", sess.WorkingDir)
	assert.Nil(t, sess.Sandbox)

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestCreateFailedResolutionRegistersNothing(t *testing.T) {
	clientCalls := 0
	r := newTestRegistry(t, func(o *Options) {
		o.NewClient = func(res credentials.Resolved) (agent.Client, error) {
			clientCalls++
			return &fakeClient{}, nil
		}
	})

	// User key mode without an API key fails resolution.
	_, err := r.Create(context.Background(), "owner-1", credentials.Credentials{
		UserKey: &credentials.UserKey{},
	}, "/work")
	require.ErrorIs(t, err, credentials.ErrMissingAPIKey)
	assert.Zero(t, clientCalls)
	assert.Empty(t, r.List("owner-1"))
}

func TestCreateFailedClientRegistersNothing(t *testing.T) {
	r := newTestRegistry(t, func(o *Options) {
		o.NewClient = func(res credentials.Resolved) (agent.Client, error) {
			return nil, errors.New("backend unreachable")
		}
	})

	_, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.Error(t, err)
	assert.Empty(t, r.List("owner-1"))
}

func TestCreateStartsSandboxWhenEnabled(t *testing.T) {
	sb := &trackingSandbox{}
	r := newTestRegistry(t, func(o *Options) {
		o.SandboxEnabled = true
		o.SandboxConfig = sandbox.Config{Runtime: sandbox.RuntimeHost}
		o.NewSandbox = func(cfg sandbox.Config) (sandbox.Sandbox, error) {
			assert.Equal(t, "/work", cfg.WorkDir)
			return sb, nil
		}
	})

	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)
	assert.Same(t, sb, sess.Sandbox)
	assert.True(t, sb.started)
}

func TestCreateBindsToolPipelineToSandbox(t *testing.T) {
	base := &stubBatchExecutor{}
	sb := &trackingSandbox{}
	r := newTestRegistry(t, func(o *Options) {
		o.Executor = base
		o.SandboxEnabled = true
		o.SandboxConfig = sandbox.Config{Runtime: sandbox.RuntimeHost}
		o.NewSandbox = func(cfg sandbox.Config) (sandbox.Sandbox, error) {
			return sb, nil
		}
	})

	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)
	require.NotNil(t, sess.Tools)

	// Shell requests through the session's pipeline land in its sandbox,
	// never in the base executor.
	resps := sess.Tools.ExecuteBatch(context.Background(), []toolexec.Request{
		{CallID: "c1", Capability: toolexec.CapabilityShell, Input: map[string]interface{}{"command": "echo hi"}},
	})
	require.Len(t, resps, 1)
	assert.Equal(t, "ok", resps[0].ResultDisplay)
	assert.Equal(t, []string{"echo hi"}, sb.commands)
	assert.Zero(t, base.calls)
}

func TestCreateWithoutExecutorLeavesToolsUnset(t *testing.T) {
	r := newTestRegistry(t, nil)

	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)
	assert.Nil(t, sess.Tools)
}

func TestCreateContinuesWithoutSandboxOnFailure(t *testing.T) {
	r := newTestRegistry(t, func(o *Options) {
		o.SandboxEnabled = true
		o.NewSandbox = func(cfg sandbox.Config) (sandbox.Sandbox, error) {
			return nil, errors.New("docker not available")
		}
	})

	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)
	assert.Nil(t, sess.Sandbox)
}

func TestGetTouchesActivity(t *testing.T) {
	r := newTestRegistry(t, nil)
	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)

	before := sess.LastActivityAt()
	time.Sleep(5 * time.Millisecond)
	_, err = r.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, sess.LastActivityAt().After(before))
}

func TestGetUnknownSession(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteIsIdempotentAndStopsSandbox(t *testing.T) {
	sb := &trackingSandbox{}
	r := newTestRegistry(t, func(o *Options) {
		o.SandboxEnabled = true
		o.NewSandbox = func(cfg sandbox.Config) (sandbox.Sandbox, error) { return sb, nil }
	})
	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)

	r.Delete(context.Background(), sess.ID)
	assert.True(t, sb.stopped)
	_, err = r.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Second delete is a no-op.
	r.Delete(context.Background(), sess.ID)
}

func TestListFiltersByOwner(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	a1, err := r.Create(ctx, "alice", defaultCreds(), "/a1")
	require.NoError(t, err)
	_, err = r.Create(ctx, "bob", defaultCreds(), "/b1")
	require.NoError(t, err)
	a2, err := r.Create(ctx, "alice", defaultCreds(), "/a2")
	require.NoError(t, err)

	got := r.List("alice")
	require.Len(t, got, 2)
	assert.Equal(t, a1.ID, got[0].ID)
	assert.Equal(t, a2.ID, got[1].ID)
}

func TestSweepEvictsIdleKeepsActive(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	idle, err := r.Create(ctx, "owner-1", defaultCreds(), "/a")
	require.NoError(t, err)
	active, err := r.Create(ctx, "owner-1", defaultCreds(), "/b")
	require.NoError(t, err)

	idle.mu.Lock()
	idle.lastActivityAt = time.Now().Add(-2 * time.Hour)
	idle.mu.Unlock()

	// Touch via lookup keeps the active session inside the threshold.
	_, err = r.Get(active.ID)
	require.NoError(t, err)

	removed := r.Sweep(ctx, time.Hour)
	assert.Equal(t, 1, removed)

	_, err = r.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Get(active.ID)
	assert.NoError(t, err)
}

func TestSessionStats(t *testing.T) {
	r := newTestRegistry(t, nil)
	sess, err := r.Create(context.Background(), "owner-1", defaultCreds(), "/work")
	require.NoError(t, err)

	sess.AppendHistory(
		agent.Message{Role: agent.RoleUser, Content: "first question"},
		agent.Message{Role: agent.RoleAssistant, Content: "first answer"},
	)

	stats, err := r.Stats(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Greater(t, stats.EstimatedTokens, 0)

	_, err = r.Stats("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryCopyIsIsolated(t *testing.T) {
	sess := &Session{}
	sess.AppendHistory(agent.Message{Role: agent.RoleUser, Content: "hello"})

	h := sess.History()
	h[0].Content = "mutated"
	assert.Equal(t, "hello", sess.History()[0].Content)
}
