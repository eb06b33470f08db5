package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Token is the persisted OAuth credential set. External refreshers
// rewrite the file in place; the store reloads on change.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// TokenStore keeps the platform OAuth token on disk and in memory,
// reloading when the backing file is rewritten by an external process.
type TokenStore struct {
	path string

	mu      sync.RWMutex
	current *Token

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewTokenStore opens the store at path, loading the token if the file
// already exists. A missing file is not an error; Current returns nil
// until a token is saved or appears on disk.
func NewTokenStore(path string) (*TokenStore, error) {
	s := &TokenStore{path: path, done: make(chan struct{})}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load token file: %w", err)
	}
	return s, nil
}

// Current returns the in-memory token, or nil when none is loaded.
func (s *TokenStore) Current() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Save writes the token atomically with owner-only permissions and
// updates the in-memory copy.
func (s *TokenStore) Save(tok Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}

	s.mu.Lock()
	s.current = &tok
	s.mu.Unlock()
	return nil
}

// Watch starts a filesystem watcher on the token file's directory and
// reloads the token whenever the file is written or replaced. It
// returns once the watcher is installed; reloads run until ctx is
// cancelled or Close is called.
func (s *TokenStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		w.Close()
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch token dir: %w", err)
	}
	s.watcher = w

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := s.load(); err != nil {
					log.Warn().Err(err).Str("path", s.path).Msg("token reload failed")
					continue
				}
				log.Debug().Str("path", s.path).Msg("token reloaded from disk")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("token watcher error")
			}
		}
	}()
	return nil
}

// Close stops the watcher goroutine if one is running.
func (s *TokenStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *TokenStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}
	s.mu.Lock()
	s.current = &tok
	s.mu.Unlock()
	return nil
}
