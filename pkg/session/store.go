package session

import "sync"

// Store holds live sessions. It is injectable so tests can substitute
// deterministic fakes and assert eviction directly.
type Store interface {
	Get(id string) (*Session, bool)
	Set(id string, s *Session)
	Delete(id string)
	// Iterate calls fn for every session until fn returns false.
	Iterate(fn func(id string, s *Session) bool)
	Len() int
}

// memoryStore is the default in-process store.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*Session)}
}

func (m *memoryStore) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *memoryStore) Set(id string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
}

func (m *memoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *memoryStore) Iterate(fn func(id string, s *Session) bool) {
	m.mu.RLock()
	snapshot := make(map[string]*Session, len(m.sessions))
	for id, s := range m.sessions {
		snapshot[id] = s
	}
	m.mu.RUnlock()

	for id, s := range snapshot {
		if !fn(id, s) {
			return
		}
	}
}

func (m *memoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
