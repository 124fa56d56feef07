package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/kskip310/luminous/internal/observability"
)

// idleAfter marks a client idle in ClientInfo.
const idleAfter = 5 * time.Minute

// Connections is the set of open UI sockets. Authentication fields on a
// Client are written only through Update so that fan-out sees them
// consistently.
type Connections struct {
	mu      sync.RWMutex
	clients map[string]*Client
	now     func() time.Time
}

func NewConnections() *Connections {
	return &Connections{clients: make(map[string]*Client), now: time.Now}
}

func (c *Connections) Add(client *Client) {
	c.mu.Lock()
	c.clients[client.ID] = client
	n := len(c.clients)
	c.mu.Unlock()

	observability.SetGatewayConnections(n)
}

func (c *Connections) Remove(id string) {
	c.mu.Lock()
	delete(c.clients, id)
	n := len(c.clients)
	c.mu.Unlock()

	observability.SetGatewayConnections(n)
}

func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// All returns every client; with authedOnly, only those past the handshake.
func (c *Connections) All(authedOnly bool) []*Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Client, 0, len(c.clients))
	for _, client := range c.clients {
		if authedOnly && !client.Authenticated {
			continue
		}
		out = append(out, client)
	}
	return out
}

// Touch records inbound traffic from id.
func (c *Connections) Touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[id]; ok {
		client.LastActivity = c.now()
	}
}

// Update runs fn on client under the write lock.
func (c *Connections) Update(client *Client, fn func(*Client)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(client)
}

// Infos describes the open connections, oldest first.
func (c *Connections) Infos() []ClientInfo {
	c.mu.RLock()
	now := c.now()
	infos := make([]ClientInfo, 0, len(c.clients))
	for _, client := range c.clients {
		infos = append(infos, ClientInfo{
			ID:            client.ID,
			Authenticated: client.Authenticated,
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			IPAddress:     client.IPAddress,
			Idle:          now.Sub(client.LastActivity) > idleAfter,
		})
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
