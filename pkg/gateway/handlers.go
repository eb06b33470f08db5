package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/internal/tracing"
	"github.com/harun/tiller/pkg/credentials"
	"github.com/harun/tiller/pkg/session"
)

// wsEmitter bridges turn events onto one client connection.
type wsEmitter struct {
	client *Client
}

func (e *wsEmitter) EmitChunk(text string) {
	_ = e.client.Send(OutboundEvent{
		Type: EventMessageChunk,
		Data: ChunkData{Type: "text", Data: ChunkText{Text: text}},
	})
}

func (e *wsEmitter) EmitToolCall(name string, args map[string]interface{}) {
	_ = e.client.Send(OutboundEvent{
		Type: EventToolCall,
		Data: ToolCallData{Name: name, Args: args},
	})
}

func (e *wsEmitter) EmitToolResult(name, result string) {
	_ = e.client.Send(OutboundEvent{
		Type: EventToolResponse,
		Data: ToolResponseData{Name: name, Result: result},
	})
}

func (e *wsEmitter) EmitComplete() {
	_ = e.client.Send(OutboundEvent{Type: EventMessageComplete})
}

func (e *wsEmitter) EmitError(message string) {
	_ = e.client.Send(OutboundEvent{Type: EventMessageError, Data: ErrorData{Message: message}})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &Client{
		ID:          newConnectionID(),
		OwnerID:     owner,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	client.Touch()
	s.clients.Add(client)

	s.logger.Info().
		Str("connection_id", client.ID).
		Str("owner_id", owner).
		Msg("Client connected")

	go s.readLoop(client)
}

func (s *Server) readLoop(client *Client) {
	defer func() {
		// Disconnect clears the cancel slot but never the session.
		if h := s.cancels.Take(client.ID); h != nil {
			h.TurnCancel()
		}
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("connection_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("connection_id", client.ID).Msg("Websocket read error")
			}
			return
		}
		client.Touch()

		var ev InboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = client.Send(OutboundEvent{Type: EventMessageError, Data: ErrorData{Message: "malformed event"}})
			continue
		}
		s.handleEvent(client, ev)
	}
}

func (s *Server) handleEvent(client *Client, ev InboundEvent) {
	switch ev.Type {
	case EventChatMessage:
		s.handleChatMessage(client, ev)
	case EventChatCancel:
		s.handleChatCancel(client)
	case EventSessionHistory:
		s.handleHistory(client, ev)
	case EventSessionCompress:
		s.handleCompress(client, ev)
	default:
		_ = client.Send(OutboundEvent{Type: EventMessageError, Data: ErrorData{Message: "unknown event type: " + ev.Type}})
	}
}

// handleChatMessage starts a turn. A second message while one is in
// flight cancels and replaces it: the new send owns the cancel slot.
func (s *Server) handleChatMessage(client *Client, ev InboundEvent) {
	sess, ok := s.lookupSession(client, ev.SessionID)
	if !ok {
		return
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	turnCtx = tracing.WithConnectionID(turnCtx, client.ID)
	turnCtx = tracing.WithSessionID(turnCtx, sess.ID)

	handle := &CancelHandle{TurnCancel: cancel}
	if prev := s.cancels.Replace(client.ID, handle); prev != nil {
		s.logger.Debug().Str("connection_id", client.ID).Msg("Replacing in-flight turn")
		prev.TurnCancel()
	}

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer cancel()
		defer s.cancels.Release(client.ID, handle)

		_ = s.adapter.SendTurn(turnCtx, sess, ev.Message, &wsEmitter{client: client})
	}()
}

// handleChatCancel triggers and removes the connection's handle, then
// confirms completion immediately without waiting for the turn to
// observe the abort.
func (s *Server) handleChatCancel(client *Client) {
	h := s.cancels.Take(client.ID)
	if h == nil {
		return
	}
	h.TurnCancel()
	observability.RecordCancel()
	_ = client.Send(OutboundEvent{Type: EventMessageComplete})
}

func (s *Server) handleHistory(client *Client, ev InboundEvent) {
	sess, ok := s.lookupSession(client, ev.SessionID)
	if !ok {
		return
	}
	_ = client.Send(OutboundEvent{Type: EventSessionHistoryOut, Data: s.adapter.History(sess)})
}

func (s *Server) handleCompress(client *Client, ev InboundEvent) {
	sess, ok := s.lookupSession(client, ev.SessionID)
	if !ok {
		return
	}
	result, err := s.adapter.Compress(context.Background(), sess)
	if err != nil {
		_ = client.Send(OutboundEvent{Type: EventMessageError, Data: ErrorData{Message: err.Error()}})
		return
	}
	_ = client.Send(OutboundEvent{Type: EventSessionCompressed, Data: result})
}

// lookupSession resolves the id and enforces ownership. Failures emit
// a single error event and change no state.
func (s *Server) lookupSession(client *Client, id string) (*session.Session, bool) {
	if id == "" {
		_ = client.Send(OutboundEvent{Type: EventMessageError, Data: ErrorData{Message: "sessionId is required"}})
		return nil, false
	}
	sess, err := s.sessions.Get(id)
	if err != nil || sess.OwnerID != client.OwnerID {
		_ = client.Send(OutboundEvent{Type: EventMessageError, Data: ErrorData{Message: "session not found: " + id}})
		return nil, false
	}
	return sess, true
}

// Session lifecycle API.

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r, owner)
	case http.MethodGet:
		s.listSessions(w, owner)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request, owner string) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	creds := credentials.Credentials{}
	switch {
	case req.Credentials.PlatformOAuth != nil:
		creds.PlatformOAuth = &credentials.PlatformOAuth{
			AccessToken:  req.Credentials.PlatformOAuth.AccessToken,
			RefreshToken: req.Credentials.PlatformOAuth.RefreshToken,
		}
	case req.Credentials.UserKey != nil:
		creds.UserKey = &credentials.UserKey{
			APIKey:   req.Credentials.UserKey.APIKey,
			Endpoint: req.Credentials.UserKey.Endpoint,
			Model:    req.Credentials.UserKey.Model,
			Provider: req.Credentials.UserKey.Provider,
		}
	default:
		creds.Default = &credentials.DefaultServiceKey{}
	}

	sess, err := s.sessions.Create(r.Context(), owner, creds, req.WorkingDir)
	if err != nil {
		s.logger.Warn().Err(err).Str("owner_id", owner).Msg("Session creation failed")
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

func (s *Server) listSessions(w http.ResponseWriter, owner string) {
	sessions := s.sessions.List(owner)
	stats := make([]session.Stats, 0, len(sessions))
	for _, sess := range sessions {
		stats = append(stats, sess.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodDelete && sub == "":
		s.deleteSession(w, r, owner, id)
	case r.Method == http.MethodGet && (sub == "" || sub == "stats"):
		s.sessionStats(w, owner, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, owner, id string) {
	sess, err := s.sessions.Get(id)
	if err == nil && sess.OwnerID == owner {
		s.sessions.Delete(r.Context(), id)
	}
	// Idempotent either way.
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionStats(w http.ResponseWriter, owner, id string) {
	sess, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrSessionNotFound) || (err == nil && sess.OwnerID != owner) {
		writeJSONError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, sess.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorData{Message: msg})
}
