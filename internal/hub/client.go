package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 45 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 64
)

// Client binds one websocket connection to a display name. A username has
// at most one current client; a newer login supersedes without closing the
// older connection's pumps.
type Client struct {
	Username string
	Conn     *websocket.Conn
	Send     chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(username string, conn *websocket.Conn) *Client {
	return &Client{
		Username: username,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}
}

// enqueue hands data to the write pump without blocking. A client whose
// buffer is full is considered stalled and silently drops the event; the
// read deadline will reap the connection. A closed client drops the event
// outright, so a broadcast racing a teardown never hits a closed channel.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// Close terminates the write pump by closing the send queue. Safe to call
// from both the owning read loop and a superseding login, and safe to call
// more than once. The client may still hold room memberships when closed;
// enqueue treats it as gone.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// SendJSON queues a payload for this client alone, bypassing room fan-out.
func (c *Client) SendJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

// ReadPump consumes inbound frames and dispatches each to handler. It
// returns when the connection errors or closes; the caller unregisters
// afterwards.
func (c *Client) ReadPump(handler func([]byte)) {
	defer c.Conn.Close()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		handler(message)
	}
}

// WritePump drains the send buffer onto the connection and keeps the
// connection alive with pings. Closing Send terminates the pump.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
