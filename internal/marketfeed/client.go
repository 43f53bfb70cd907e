package marketfeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is one websocket connection. Its subscription set decides
// which tokens' notifications it receives; an empty set means all.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	tokens map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		tokens: make(map[string]struct{}),
	}
}

func (c *Client) wants(tokenID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.tokens) == 0 {
		return true
	}
	_, ok := c.tokens[tokenID]
	return ok
}

// subscribeRequest is the only inbound message a client may send.
type subscribeRequest struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	TokenID string `json:"token_id"`
}

// detach hands the client back to the hub. If the hub has already
// shut down nobody drains unregister, so bail out on done instead.
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readLoop consumes subscription messages and pongs until the
// connection dies, then unregisters the client.
func (c *Client) readLoop() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil || req.TokenID == "" {
			continue
		}

		c.mu.Lock()
		switch req.Action {
		case "subscribe":
			c.tokens[req.TokenID] = struct{}{}
		case "unsubscribe":
			delete(c.tokens, req.TokenID)
		}
		c.mu.Unlock()
	}
}

// writeLoop drains the send channel to the connection and keeps the
// connection alive with pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
