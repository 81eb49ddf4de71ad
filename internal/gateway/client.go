package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/huddleclaw/pkg/protocol"
)

// Client is one connected agent runtime.
type Client struct {
	id      string
	agentID string // "" or "*" serves every agent
	conn    *websocket.Conn
	bridge  *Bridge

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	connected time.Time
}

func newClient(conn *websocket.Conn, b *Bridge, agentID string) *Client {
	return &Client{
		id:        uuid.NewString(),
		agentID:   agentID,
		conn:      conn,
		bridge:    b,
		done:      make(chan struct{}),
		connected: time.Now(),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string { return c.id }

// send writes one frame. gorilla connections allow a single concurrent writer.
func (c *Client) send(f protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// Run reads frames until the connection closes or ctx is cancelled. A keepalive ping
// goes out every pingPeriod; a peer silent for pongWait is dropped.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive(ctx)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("bridge: agent read failed", "id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("bridge: malformed frame", "id", c.id, "error", err)
			continue
		}
		c.bridge.handleFrame(c, f)
	}
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close closes the socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}

// sortClients orders clients by connect time, then ID.
func sortClients(cs []*Client) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].connected.Equal(cs[j].connected) {
			return cs[i].connected.Before(cs[j].connected)
		}
		return cs[i].id < cs[j].id
	})
}
