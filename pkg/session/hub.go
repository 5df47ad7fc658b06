package session

import (
	"context"
	"sync"

	"github.com/decred/slog"
)

// Hub tracks connected clients and their table subscriptions and fans
// server events out to them. A client whose send queue is full is a slow
// consumer and gets disconnected rather than stalling the broadcast.
type Hub struct {
	log slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	tables  map[string]map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub(log slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*Client]bool),
		tables:  make(map[string]map[*Client]bool),
	}
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Debugf("session %s connected for player %s", c.SessionID, c.PlayerID)
}

// Unregister drops the client and all its subscriptions and stops its
// write pump.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for tableID, subs := range h.tables {
		if subs[c] {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.tables, tableID)
			}
		}
	}
	h.mu.Unlock()
	c.Close()
	h.log.Debugf("session %s disconnected", c.SessionID)
}

// Subscribe adds the client to a table's broadcast set.
func (h *Hub) Subscribe(c *Client, tableID string) {
	h.mu.Lock()
	subs := h.tables[tableID]
	if subs == nil {
		subs = make(map[*Client]bool)
		h.tables[tableID] = subs
	}
	subs[c] = true
	h.mu.Unlock()
}

// Unsubscribe removes the client from a table's broadcast set.
func (h *Hub) Unsubscribe(c *Client, tableID string) {
	h.mu.Lock()
	if subs := h.tables[tableID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.tables, tableID)
		}
	}
	h.mu.Unlock()
}

// Subscribers returns the clients watching a table.
func (h *Hub) Subscribers(tableID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.tables[tableID]))
	for c := range h.tables[tableID] {
		out = append(out, c)
	}
	return out
}

// ClientsForPlayer returns the player's live sessions.
func (h *Hub) ClientsForPlayer(playerID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for c := range h.clients {
		if c.PlayerID == playerID {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastTable sends an envelope to every subscriber of the table.
// Each client gets its own sequence number stamped.
func (h *Hub) BroadcastTable(tableID string, env Envelope) {
	for _, c := range h.Subscribers(tableID) {
		h.Send(c, env)
	}
}

// Send delivers one envelope to one client, dropping the connection if
// its queue is full.
func (h *Hub) Send(c *Client, env Envelope) {
	if !c.SendEnvelope(env) {
		h.log.Warnf("session %s is a slow consumer, dropping", c.SessionID)
		h.Unregister(c)
		c.conn.Close()
	}
}

// Shutdown closes every connection.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.Unregister(c)
		c.conn.Close()
	}
}
