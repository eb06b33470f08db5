package gateway

import (
	"context"
	"sync"
)

// CancelHandle is the cancellation slot of one in-flight turn.
type CancelHandle struct {
	TurnCancel context.CancelFunc
}

// CancelStore maps connection ids to their single active cancellation
// handle. It is injectable so tests can assert slot lifecycle directly.
type CancelStore interface {
	// Replace installs h for connID and returns the handle it
	// displaced, if any.
	Replace(connID string, h *CancelHandle) *CancelHandle
	// Take removes and returns the handle for connID.
	Take(connID string) *CancelHandle
	// Release removes the slot only if it still holds h, so a finished
	// turn cannot clear the slot of the turn that replaced it.
	Release(connID string, h *CancelHandle)
	Len() int
}

type memoryCancelStore struct {
	mu      sync.Mutex
	handles map[string]*CancelHandle
}

// NewCancelStore returns an empty in-memory cancel store.
func NewCancelStore() CancelStore {
	return &memoryCancelStore{handles: make(map[string]*CancelHandle)}
}

func (m *memoryCancelStore) Replace(connID string, h *CancelHandle) *CancelHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.handles[connID]
	m.handles[connID] = h
	return prev
}

func (m *memoryCancelStore) Take(connID string) *CancelHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handles[connID]
	delete(m.handles, connID)
	return h
}

func (m *memoryCancelStore) Release(connID string, h *CancelHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[connID] == h {
		delete(m.handles, connID)
	}
}

func (m *memoryCancelStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}
