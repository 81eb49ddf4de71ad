package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	eventBufferSize         = 256
	defaultPingInterval     = 25 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultBackoffBase      = time.Second
	maxBackoff              = 60 * time.Second
)

var errNotConnected = errors.New("not connected")

// TransportOptions configures a realtime transport.
type TransportOptions struct {
	URL                  string
	Token                string
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration // first retry delay, doubled per attempt
	HTTPClient           *http.Client
}

// Transport owns one realtime socket for one bot account. Inbound events are
// delivered in arrival order on Events(); the channel is closed by Close.
type Transport struct {
	opts TransportOptions

	mu        sync.RWMutex
	client    *WSClient
	identity  Identity
	connected bool
	started   bool
	closed    bool

	lastActivity atomic.Int64 // unix nanos of the last inbound frame

	events    chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewTransport creates an unconnected transport.
func NewTransport(opts TransportOptions) *Transport {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		opts:   opts,
		events: make(chan Event, eventBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events returns the inbound event stream.
func (t *Transport) Events() <-chan Event { return t.events }

// IsConnected reports whether the socket is open and authenticated.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Identity returns the bot user learned at authentication.
func (t *Transport) Identity() Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.identity
}

// LastActivity returns the time of the last inbound frame (pongs included).
func (t *Transport) LastActivity() time.Time {
	n := t.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Connect dials and authenticates, retrying transient failures with exponential
// backoff. Authentication rejections are returned immediately.
func (t *Transport) Connect(ctx context.Context) (Identity, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Identity{}, &TransportError{Op: "connect", Err: errors.New("transport closed")}
	}
	if t.started {
		connected, id := t.connected, t.identity
		t.mu.Unlock()
		if connected {
			return id, nil
		}
		return Identity{}, &TransportError{Op: "connect", Err: errors.New("reconnect in progress")}
	}
	t.started = true
	t.mu.Unlock()

	client, id, err := t.dialWithRetry(ctx)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return Identity{}, err
	}
	t.install(client, id)

	t.wg.Add(1)
	go t.run(client)
	return id, nil
}

func (t *Transport) dialWithRetry(ctx context.Context) (*WSClient, Identity, error) {
	var lastErr error
	attempts := t.opts.MaxReconnectAttempts + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := t.backoff(attempt)
			slog.Debug("huddle transport retry", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, Identity{}, ctx.Err()
			case <-t.ctx.Done():
				return nil, Identity{}, &TransportError{Op: "connect", Err: errors.New("transport closed")}
			case <-time.After(delay):
			}
		}

		client, id, err := t.dialOnce(ctx)
		if err == nil {
			return client, id, nil
		}
		if IsAuthError(err) {
			return nil, Identity{}, err
		}
		if ctx.Err() != nil {
			return nil, Identity{}, ctx.Err()
		}
		lastErr = err
	}
	return nil, Identity{}, &TransportError{Op: "connect", Attempts: attempts, Err: lastErr}
}

// backoff returns min(base * 2^(attempt-1), 60s).
func (t *Transport) backoff(attempt int) time.Duration {
	if attempt > 20 {
		return maxBackoff
	}
	d := t.opts.BackoffBase << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// dialOnce opens the socket and waits for the authenticated event.
func (t *Transport) dialOnce(ctx context.Context) (*WSClient, Identity, error) {
	hctx, cancel := context.WithTimeout(ctx, t.opts.HandshakeTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.opts.Token)
	client, err := DialWS(hctx, t.opts.URL, h, t.opts.HTTPClient)
	if err != nil {
		return nil, Identity{}, err
	}

	for {
		data, err := client.ReadMessage(hctx)
		if err != nil {
			client.Close(1000, "")
			return nil, Identity{}, fmt.Errorf("handshake: %w", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Event {
		case EvAuthenticated:
			var id Identity
			if err := unmarshalData(f.Data, &id); err != nil || id.UserID == "" {
				client.Close(1000, "")
				return nil, Identity{}, fmt.Errorf("handshake: malformed authenticated event")
			}
			return client, id, nil
		case EvAuthError:
			var p errorPayload
			_ = unmarshalData(f.Data, &p)
			client.Close(1000, "")
			return nil, Identity{}, &AuthenticationError{Message: p.Message}
		case EvConnectError:
			var p errorPayload
			_ = unmarshalData(f.Data, &p)
			client.Close(1000, "")
			return nil, Identity{}, fmt.Errorf("connect_error: %s", p.Message)
		}
	}
}

func (t *Transport) install(client *WSClient, id Identity) {
	t.mu.Lock()
	t.client = client
	t.identity = id
	t.connected = true
	t.mu.Unlock()
	t.touch()
}

func (t *Transport) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// run reads frames until the transport is closed or reconnection gives up.
func (t *Transport) run(client *WSClient) {
	defer t.wg.Done()

	for {
		final := t.readLoop(client)
		if final || t.ctx.Err() != nil {
			return
		}

		next, id, err := t.dialWithRetry(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			slog.Warn("huddle transport reconnect failed", "error", err)
			t.emit(Disconnected{Code: 1006, Reason: "reconnect failed", Final: true, Err: err})
			return
		}
		t.install(next, id)
		slog.Info("huddle transport reconnected", "user_id", id.UserID)
		t.emit(Authenticated{Identity: id, Reconnect: true})
		client = next
	}
}

// readLoop pumps one socket. It returns true when the transport must not reconnect.
func (t *Transport) readLoop(client *WSClient) bool {
	pctx, pcancel := context.WithCancel(t.ctx)
	defer pcancel()
	go t.pingLoop(pctx, client)

	deadline := t.opts.PingInterval * 5 / 2
	for {
		rctx, rcancel := context.WithTimeout(t.ctx, deadline)
		data, err := client.ReadMessage(rctx)
		rcancel()

		if err != nil {
			t.markDisconnected()
			client.Close(1000, "")
			if t.ctx.Err() != nil {
				return true
			}
			code, reason := parseWSCloseInfo(err)
			if errors.Is(err, context.DeadlineExceeded) {
				code, reason = 1006, "read timeout (silent disconnect)"
				slog.Warn("huddle transport silent disconnect detected")
			}
			t.emit(Disconnected{Code: code, Reason: reason, Err: err})
			return false
		}
		t.touch()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("huddle transport: bad frame", "error", err)
			continue
		}

		switch f.Event {
		case EvPong:
			continue
		case EvAuthError:
			var p errorPayload
			_ = unmarshalData(f.Data, &p)
			t.markDisconnected()
			client.Close(1000, "")
			t.emit(AuthFailed{Message: p.Message})
			t.emit(Disconnected{Code: 4001, Reason: "auth_error", Final: true, Err: &AuthenticationError{Message: p.Message}})
			return true
		case EvConnectError:
			var p errorPayload
			_ = unmarshalData(f.Data, &p)
			slog.Warn("huddle transport connect_error", "message", p.Message)
			continue
		}

		ev, err := decodeEvent(f)
		if err != nil {
			slog.Debug("huddle transport: decode event", "error", err)
			continue
		}
		if ev != nil {
			t.emit(ev)
		}
	}
}

func (t *Transport) markDisconnected() {
	t.mu.Lock()
	t.connected = false
	t.client = nil
	t.mu.Unlock()
}

// emit blocks until the consumer takes the event or the transport closes.
func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *Transport) pingLoop(ctx context.Context, client *WSClient) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, _ := encodeFrame(EvPing, map[string]int64{"ts": time.Now().UnixMilli()})
			if err := client.WriteMessage(ctx, body); err != nil {
				slog.Debug("huddle transport ping failed", "error", err)
			}
		}
	}
}

// send writes one client event on the current socket.
func (t *Transport) send(ctx context.Context, event string, data any) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return &TransportError{Op: event, Err: errNotConnected}
	}
	body, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	if err := client.WriteMessage(ctx, body); err != nil {
		return &TransportError{Op: event, Err: err}
	}
	return nil
}

// JoinChannel subscribes to a channel's events.
func (t *Transport) JoinChannel(ctx context.Context, channelID string) error {
	return t.send(ctx, EvJoinChannel, map[string]string{"channelId": channelID})
}

// LeaveChannel unsubscribes from a channel.
func (t *Transport) LeaveChannel(ctx context.Context, channelID string) error {
	return t.send(ctx, EvLeaveChannel, map[string]string{"channelId": channelID})
}

type typingPayload struct {
	ChannelID string `json:"channelId"`
	ParentID  string `json:"parentId,omitempty"`
}

// StartTyping shows the typing indicator in a channel or thread.
func (t *Transport) StartTyping(ctx context.Context, channelID, parentID string) error {
	return t.send(ctx, EvTypingStart, typingPayload{ChannelID: channelID, ParentID: parentID})
}

// StopTyping clears the typing indicator.
func (t *Transport) StopTyping(ctx context.Context, channelID, parentID string) error {
	return t.send(ctx, EvTypingStop, typingPayload{ChannelID: channelID, ParentID: parentID})
}

// MarkAsRead advances the bot's read pointer in a channel.
func (t *Transport) MarkAsRead(ctx context.Context, channelID, messageID string) error {
	return t.send(ctx, EvMarkAsRead, map[string]string{"channelId": channelID, "messageId": messageID})
}

// AddReaction reacts to a message over the socket.
func (t *Transport) AddReaction(ctx context.Context, messageID, emoji string) error {
	return t.send(ctx, EvAddReaction, map[string]string{"messageId": messageID, "emoji": emoji})
}

// RemoveReaction removes a socket reaction.
func (t *Transport) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	return t.send(ctx, EvRemoveReaction, map[string]string{"messageId": messageID, "emoji": emoji})
}

// Close disconnects, stops reconnecting and closes the event stream. Safe to call twice.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		client := t.client
		t.mu.Unlock()

		t.cancel()
		if client != nil {
			client.Close(1000, "bye")
		}
		t.wg.Wait()
		t.markDisconnected()
		close(t.events)
	})
}
