package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vglenn/cardroom/pkg/poker"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// heartbeatPeriod is the ping interval; pongWait gives the client
	// two missed heartbeats before the read side gives up.
	heartbeatPeriod = 15 * time.Second
	pongWait        = 35 * time.Second
	// maxMessageSize bounds inbound frames; commands are small.
	maxMessageSize = 4096
	// sendQueueSize is the per-client outbound buffer. A client that
	// falls this far behind is disconnected as a slow consumer.
	sendQueueSize = 64
)

// ErrSessionExpired is returned by TokenVerifier for stale credentials.
var ErrSessionExpired = errors.New("session: token expired")

// TokenVerifier authenticates the bearer token presented at upgrade.
type TokenVerifier interface {
	Verify(token string) (playerID string, err error)
}

// Handler processes authenticated client envelopes.
type Handler interface {
	HandleEnvelope(ctx context.Context, c *Client, env Envelope)
}

// Client is one WebSocket session. The read pump is the only reader and
// the write pump the only writer on the connection.
type Client struct {
	SessionID string
	PlayerID  string

	// Bypass disables the dedupe pipeline for this session.
	Bypass bool

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	seq  atomic.Uint64
	log  slog.Logger

	// mu guards closed. The send channel is never closed; the write pump
	// drains and exits when done closes, so a broadcast racing a
	// disconnect drops the frame instead of panicking.
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, playerID string, log slog.Logger) *Client {
	return &Client{
		SessionID: uuid.NewString(),
		PlayerID:  playerID,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Close marks the session dead and stops the write pump. Safe to call
// more than once and concurrently with SendEnvelope.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

// SendEnvelope stamps ID, Seq and Timestamp and queues the frame. It
// reports false when the queue is full.
func (c *Client) SendEnvelope(env Envelope) bool {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.Seq = c.seq.Add(1)
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Errorf("marshal envelope %s: %v", env.Type, err)
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// The session is gone; the frame is dropped, not an error.
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Run starts both pumps and blocks until the connection dies.
func (c *Client) Run(ctx context.Context, handler Handler) {
	go c.writePump()
	c.readPump(ctx, handler)
}

func (c *Client) readPump(ctx context.Context, handler Handler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugf("session %s read: %v", c.SessionID, err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.SendEnvelope(ErrorEnvelope("", poker.NewGameError(poker.CodeUnknownType, "malformed envelope")))
			continue
		}
		if !KnownClientType(env.Type) {
			c.SendEnvelope(ErrorEnvelope(env.ID, poker.NewGameError(poker.CodeUnknownType, "unknown message type %q", env.Type)))
			continue
		}
		if env.Type == TypeHeartbeat {
			c.SendEnvelope(Envelope{Type: TypeHeartbeat, CorrelationID: env.ID})
			continue
		}
		handler.HandleEnvelope(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
