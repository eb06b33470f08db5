// Package gateway is the transport layer: a websocket event channel
// for chat traffic and a small HTTP API for session lifecycle. Each
// connection owns at most one cancellation handle; sessions outlive
// connections.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/tiller/internal/observability"
	"github.com/harun/tiller/pkg/chat"
	"github.com/harun/tiller/pkg/session"
)

// Config holds server configuration.
type Config struct {
	Host      string
	Port      int
	AuthToken string
	Sessions  *session.Registry
	Adapter   *chat.Adapter
	Cancels   CancelStore
	Logger    zerolog.Logger
}

// Server serves the websocket event channel and the lifecycle API.
type Server struct {
	host      string
	port      int
	authToken string
	sessions  *session.Registry
	adapter   *chat.Adapter
	cancels   CancelStore
	clients   *ClientRegistry
	logger    zerolog.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// NewServer builds a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("chat adapter is required")
	}
	if cfg.Cancels == nil {
		cfg.Cancels = NewCancelStore()
	}

	return &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		sessions:  cfg.Sessions,
		adapter:   cfg.Adapter,
		cancels:   cfg.Cancels,
		clients:   NewClientRegistry(),
		logger:    cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Start begins serving. It returns once the listener goroutine is up.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop drains in-flight turns, closes connections, and shuts the
// listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown drain timeout reached, forcing close")
	}

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// authorized checks the shared token. An empty configured token
// disables the check.
func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.authToken {
		return true
	}
	return r.URL.Query().Get("token") == s.authToken
}

func ownerFrom(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-Id"); owner != "" {
		return owner
	}
	return r.URL.Query().Get("owner")
}

func newConnectionID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return id
}
