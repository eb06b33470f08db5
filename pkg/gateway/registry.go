package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/tiller/internal/observability"
)

// Client is one connected websocket peer. Writes go through Send so
// concurrent turn goroutines never interleave frames.
type Client struct {
	ID          string
	OwnerID     string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	writeMu      sync.Mutex
	lastActivity time.Time
}

// Send writes one event to the peer.
func (c *Client) Send(ev OutboundEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(ev)
}

// Touch updates the activity timestamp.
func (c *Client) Touch() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.lastActivity = time.Now()
}

// LastActivity returns the time of the last inbound frame.
func (c *Client) LastActivity() time.Time {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.lastActivity
}

// ClientRegistry tracks connected peers.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers a client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	n := len(r.clients)
	r.mu.Unlock()
	observability.SetActiveConnections(n)
}

// Remove drops a client.
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	n := len(r.clients)
	r.mu.Unlock()
	observability.SetActiveConnections(n)
}

// Get returns a client by id.
func (r *ClientRegistry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// All returns a snapshot of connected clients.
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of connected clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
