package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tiller/internal/config"
	"github.com/harun/tiller/pkg/agent"
	"github.com/harun/tiller/pkg/chat"
	"github.com/harun/tiller/pkg/credentials"
	"github.com/harun/tiller/pkg/session"
	"github.com/harun/tiller/pkg/toolexec"
)

// scriptedClient replays one event script per streaming call.
type scriptedClient struct {
	scripts [][]agent.StreamEvent
	calls   int
}

func (c *scriptedClient) Stream(ctx context.Context, req agent.Request) (<-chan agent.StreamEvent, error) {
	var script []agent.StreamEvent
	if c.calls < len(c.scripts) {
		script = c.scripts[c.calls]
	}
	c.calls++

	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range script {
			ch <- ev
		}
	}()
	return ch, nil
}

func (c *scriptedClient) Model() string    { return "test-model" }
func (c *scriptedClient) Provider() string { return "anthropic" }

// replaceClient blocks its first stream until the turn context is
// cancelled, then replays a normal script for every later stream.
type replaceClient struct {
	mu           sync.Mutex
	calls        int
	firstStarted chan struct{}
}

func (c *replaceClient) Stream(ctx context.Context, req agent.Request) (<-chan agent.StreamEvent, error) {
	c.mu.Lock()
	call := c.calls
	c.calls++
	c.mu.Unlock()

	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		if call == 0 {
			close(c.firstStarted)
			<-ctx.Done()
			ch <- agent.StreamEvent{Err: ctx.Err()}
			return
		}
		ch <- agent.StreamEvent{Text: "take two"}
		ch <- agent.StreamEvent{Done: true}
	}()
	return ch, nil
}

func (c *replaceClient) Model() string    { return "test-model" }
func (c *replaceClient) Provider() string { return "anthropic" }

func newTestServer(t *testing.T, client agent.Client) (*Server, *session.Registry) {
	t.Helper()

	resolver := credentials.NewResolver(config.CredentialsConfig{
		Provider: "anthropic",
		Endpoint: "api.anthropic.com",
		APIKey:   "sk-ant-platform",
		Model:    "claude-sonnet-4-20250514",
	}, nil)

	registry := session.NewRegistry(session.Options{
		Resolver: resolver,
		NewClient: func(res credentials.Resolved) (agent.Client, error) {
			return client, nil
		},
	})

	srv, err := NewServer(Config{
		Port:     18789,
		Sessions: registry,
		Adapter:  chat.NewAdapter(toolexec.New(0), "", 0),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return srv, registry
}

func dialWS(t *testing.T, srv *Server, owner string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?owner=" + owner
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) OutboundEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev OutboundEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestNewServerValidatesConfig(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 18789})
	assert.Error(t, err)
}

func TestChatMessageStreamsToCompletion(t *testing.T) {
	client := &scriptedClient{scripts: [][]agent.StreamEvent{
		{{Text: "hi "}, {Text: "there"}, {Done: true}},
	}}
	srv, registry := newTestServer(t, client)

	sess, err := registry.Create(context.Background(), "alice",
		credentials.Credentials{Default: &credentials.DefaultServiceKey{}}, "/work")
	require.NoError(t, err)

	conn := dialWS(t, srv, "alice")
	require.NoError(t, conn.WriteJSON(InboundEvent{
		Type: EventChatMessage, SessionID: sess.ID, Message: "hello",
	}))

	var types []string
	for {
		ev := readEvent(t, conn)
		types = append(types, ev.Type)
		if ev.Type == EventMessageComplete || ev.Type == EventMessageError {
			break
		}
	}
	assert.Equal(t, []string{EventMessageChunk, EventMessageChunk, EventMessageComplete}, types)
	assert.Zero(t, srv.cancels.Len())
}

func TestSecondChatMessageCancelsAndReplaces(t *testing.T) {
	client := &replaceClient{firstStarted: make(chan struct{})}
	srv, registry := newTestServer(t, client)

	sess, err := registry.Create(context.Background(), "alice",
		credentials.Credentials{Default: &credentials.DefaultServiceKey{}}, "/work")
	require.NoError(t, err)

	conn := dialWS(t, srv, "alice")
	require.NoError(t, conn.WriteJSON(InboundEvent{
		Type: EventChatMessage, SessionID: sess.ID, Message: "first",
	}))
	select {
	case <-client.firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("first stream never started")
	}

	// The second send while the first turn is in flight takes over the
	// connection's cancellation slot and aborts the first turn.
	require.NoError(t, conn.WriteJSON(InboundEvent{
		Type: EventChatMessage, SessionID: sess.ID, Message: "second",
	}))

	completes, chunks := 0, 0
	for completes < 2 {
		ev := readEvent(t, conn)
		switch ev.Type {
		case EventMessageComplete:
			completes++
		case EventMessageChunk:
			chunks++
		case EventMessageError:
			t.Fatalf("cancelled turn surfaced as error: %+v", ev.Data)
		}
	}
	// Cancellation resolves the first turn as complete; the replacement
	// turn streams its own content and completes too.
	assert.GreaterOrEqual(t, chunks, 1)
	assert.Eventually(t, func() bool { return srv.cancels.Len() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestChatMessageUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})
	conn := dialWS(t, srv, "alice")

	require.NoError(t, conn.WriteJSON(InboundEvent{
		Type: EventChatMessage, SessionID: "missing", Message: "hello",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, EventMessageError, ev.Type)
	// A rejected send never touches the cancellation-token map.
	assert.Zero(t, srv.cancels.Len())
}

func TestChatMessageWrongOwnerIsNotFound(t *testing.T) {
	srv, registry := newTestServer(t, &scriptedClient{scripts: [][]agent.StreamEvent{
		{{Done: true}},
	}})
	sess, err := registry.Create(context.Background(), "alice",
		credentials.Credentials{Default: &credentials.DefaultServiceKey{}}, "/work")
	require.NoError(t, err)

	conn := dialWS(t, srv, "mallory")
	require.NoError(t, conn.WriteJSON(InboundEvent{
		Type: EventChatMessage, SessionID: sess.ID, Message: "hello",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, EventMessageError, ev.Type)
}

func TestChatCancelWithoutActiveTurnIsSilent(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})
	conn := dialWS(t, srv, "alice")

	require.NoError(t, conn.WriteJSON(InboundEvent{Type: EventChatCancel}))
	require.NoError(t, conn.WriteJSON(InboundEvent{Type: "bogus"}))

	// Only the unknown-event error arrives; the no-op cancel sends nothing.
	ev := readEvent(t, conn)
	assert.Equal(t, EventMessageError, ev.Type)
}

func TestSessionHistoryAndCompressOverWS(t *testing.T) {
	client := &scriptedClient{scripts: [][]agent.StreamEvent{
		{{Text: "summary of it all"}, {Done: true}},
	}}
	srv, registry := newTestServer(t, client)
	sess, err := registry.Create(context.Background(), "alice",
		credentials.Credentials{Default: &credentials.DefaultServiceKey{}}, "/work")
	require.NoError(t, err)
	sess.AppendHistory(
		agent.Message{Role: agent.RoleUser, Content: "a rather long question about the project"},
		agent.Message{Role: agent.RoleAssistant, Content: "a rather long answer with much detail"},
	)

	conn := dialWS(t, srv, "alice")

	require.NoError(t, conn.WriteJSON(InboundEvent{Type: EventSessionHistory, SessionID: sess.ID}))
	ev := readEvent(t, conn)
	assert.Equal(t, EventSessionHistoryOut, ev.Type)

	require.NoError(t, conn.WriteJSON(InboundEvent{Type: EventSessionCompress, SessionID: sess.ID}))
	ev = readEvent(t, conn)
	require.Equal(t, EventSessionCompressed, ev.Type)

	data, err := json.Marshal(ev.Data)
	require.NoError(t, err)
	var result chat.CompressionResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Greater(t, result.TokensBefore, result.TokensAfter)
}

func TestSessionLifecycleAPI(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", srv.handleSessions)
	mux.HandleFunc("/api/sessions/", srv.handleSessionByID)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// Create.
	body, _ := json.Marshal(createSessionRequest{
		WorkingDir:  "/work",
		Credentials: credentialsBody{Default: true},
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions", bytes.NewReader(body))
	req.Header.Set("X-Owner-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.SessionID)

	// List.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/sessions", nil)
	req.Header.Set("X-Owner-Id", "alice")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []session.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed, 1)
	assert.Equal(t, created.SessionID, listed[0].ID)

	// Stats.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/sessions/"+created.SessionID+"/stats", nil)
	req.Header.Set("X-Owner-Id", "alice")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Delete, twice (idempotent).
	for i := 0; i < 2; i++ {
		req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+created.SessionID, nil)
		req.Header.Set("X-Owner-Id", "alice")
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestSessionCreateWithBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})
	ts := httptest.NewServer(http.HandlerFunc(srv.handleSessions))
	defer ts.Close()

	// User key without an API key fails resolution; nothing registers.
	body, _ := json.Marshal(createSessionRequest{
		Credentials: credentialsBody{UserKey: &userKeyBody{}},
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(body))
	req.Header.Set("X-Owner-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	assert.Empty(t, srv.sessions.List("alice"))
}

func TestAuthTokenEnforced(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})
	srv.authToken = "secret"
	ts := httptest.NewServer(http.HandlerFunc(srv.handleSessions))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("X-Owner-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
