package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const wsReadLimit = 4 << 20 // 4MB

// WSClient wraps coder/websocket with a thread-safe write method.
type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWS connects to the realtime endpoint. A 401/403 handshake response is reported as
// an AuthenticationError so callers do not retry a revoked token.
func DialWS(ctx context.Context, wsURL string, headers http.Header, httpClient *http.Client) (*WSClient, error) {
	opts := &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: httpClient,
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthenticationError{Status: resp.StatusCode, Message: "realtime handshake rejected"}
		}
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &WSClient{conn: conn}, nil
}

// ReadMessage reads the next WebSocket message. Blocks until a message
// arrives, the context is cancelled, or the connection is closed.
func (c *WSClient) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// WriteMessage sends a text WebSocket message. Thread-safe.
func (c *WSClient) WriteMessage(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a close frame and shuts down the connection.
func (c *WSClient) Close(code int, reason string) {
	c.conn.Close(websocket.StatusCode(code), reason)
}

// parseWSCloseInfo extracts close code and reason from a coder/websocket error.
func parseWSCloseInfo(err error) (int, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	return 1006, err.Error()
}
