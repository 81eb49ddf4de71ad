// Package gateway hosts the WebSocket bridge agent runtimes connect to. The bridge is an
// agent.Runtime: each turn is pushed to a connected agent as a frame and the agent's
// reply frames are delivered back to the chat.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/huddleclaw/internal/agent"
	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
	"github.com/nextlevelbuilder/huddleclaw/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4 << 20
	replyQueueSize = 16
	sendTimeout    = 30 * time.Second

	defaultChannel = "huddle"
)

// ErrNoAgent is returned when no connected agent can take a turn.
var ErrNoAgent = errors.New("no agent connected to the bridge")

// Outbound delivers agent-initiated messages to a chat channel.
type Outbound interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// StatusFunc reports channel health for the /health endpoint.
type StatusFunc func(ctx context.Context) map[string]interface{}

// Bridge accepts agent connections on /ws and dispatches turns to them.
type Bridge struct {
	cfg      config.GatewayConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	runs    map[string]*pendingRun
	next    int

	outbound Outbound
	status   StatusFunc

	httpServer *http.Server
	mux        *http.ServeMux
}

// pendingRun collects the frames of one in-flight turn.
type pendingRun struct {
	client  *Client
	replies chan protocol.ReplyPayload
	done    chan error
	gone    chan struct{} // closed when Dispatch returns
}

func (r *pendingRun) finish(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// NewBridge creates a bridge. Nothing listens until Start.
func NewBridge(cfg config.GatewayConfig) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		clients: make(map[string]*Client),
		runs:    make(map[string]*pendingRun),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

// SetOutbound enables "send" frames from agents.
func (b *Bridge) SetOutbound(o Outbound) {
	b.mu.Lock()
	b.outbound = o
	b.mu.Unlock()
}

// SetStatus adds channel status to /health.
func (b *Bridge) SetStatus(fn StatusFunc) {
	b.mu.Lock()
	b.status = fn
	b.mu.Unlock()
}

// checkOrigin validates the WebSocket origin against the allowed origins whitelist.
// If no origins are configured, all origins are allowed.
// Empty Origin header (non-browser clients) is always allowed.
func (b *Bridge) checkOrigin(r *http.Request) bool {
	allowed := b.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// authorized checks the bearer token (header or ?token=) when one is configured.
func (b *Bridge) authorized(r *http.Request) bool {
	if b.cfg.Token == "" {
		return true
	}
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(tok), []byte(b.cfg.Token)) == 1
}

// Handler returns the bridge's HTTP routes: /ws for agents and /health.
func (b *Bridge) Handler() http.Handler {
	if b.mux != nil {
		return b.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWebSocket)
	mux.HandleFunc("/health", b.handleHealth)
	b.mux = mux
	return mux
}

// Start listens on the configured host and port until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	host := b.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := b.cfg.Port
	if port == 0 {
		port = 18791
	}
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	b.httpServer = &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("agent bridge starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.httpServer.Shutdown(shutdownCtx)
	}()

	if err := b.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("agent bridge: %w", err)
	}
	return nil
}

func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		slog.Warn("security.bridge_unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = r.Header.Get("X-Agent-ID")
	}
	client := newClient(conn, b, agentID)
	b.registerClient(client)
	defer func() {
		b.unregisterClient(client)
		client.Close()
	}()

	hello, _ := protocol.NewFrame(protocol.FrameHello, uuid.NewString(), "", protocol.HelloPayload{
		Protocol: protocol.ProtocolVersion,
		ConnID:   client.id,
		AgentID:  agentID,
	})
	if err := client.send(hello); err != nil {
		return
	}
	client.Run(r.Context())
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	n, status := len(b.clients), b.status
	b.mu.RUnlock()

	body := map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"agents":   n,
	}
	if status != nil {
		body["channels"] = status(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (b *Bridge) registerClient(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.id] = c
	slog.Info("agent connected", "id", c.id, "agent_id", c.agentID)
}

// unregisterClient drops the client and fails every run it was serving.
func (b *Bridge) unregisterClient(c *Client) {
	b.mu.Lock()
	delete(b.clients, c.id)
	var orphaned []*pendingRun
	for runID, run := range b.runs {
		if run.client == c {
			orphaned = append(orphaned, run)
			delete(b.runs, runID)
		}
	}
	b.mu.Unlock()

	for _, run := range orphaned {
		run.finish(fmt.Errorf("agent %s disconnected mid-turn", c.id))
	}
	slog.Info("agent disconnected", "id", c.id)
}

// Clients returns the number of connected agents.
func (b *Bridge) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// pick chooses a client for agentID: dedicated connections first, then connections
// serving every agent, rotating among candidates.
func (b *Bridge) pick(agentID string) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	var exact, shared []*Client
	for _, c := range b.clients {
		switch c.agentID {
		case agentID:
			exact = append(exact, c)
		case "", "*":
			shared = append(shared, c)
		}
	}
	candidates := exact
	if len(candidates) == 0 {
		candidates = shared
	}
	if len(candidates) == 0 {
		return nil
	}
	// map order is random; sort for a stable rotation
	sortClients(candidates)
	b.next++
	return candidates[b.next%len(candidates)]
}

// Dispatch implements agent.Runtime.
func (b *Bridge) Dispatch(ctx context.Context, turn agent.Turn, deliver agent.DeliverFunc) error {
	client := b.pick(turn.AgentID)
	if client == nil {
		return ErrNoAgent
	}

	run := &pendingRun{
		client:  client,
		replies: make(chan protocol.ReplyPayload, replyQueueSize),
		done:    make(chan error, 1),
		gone:    make(chan struct{}),
	}
	b.mu.Lock()
	b.runs[turn.RunID] = run
	b.mu.Unlock()
	defer func() {
		b.forget(turn.RunID)
		close(run.gone)
	}()

	frame, err := protocol.NewFrame(protocol.FrameTurn, uuid.NewString(), turn.RunID, turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	if err := client.send(frame); err != nil {
		return fmt.Errorf("send turn to agent %s: %w", client.id, err)
	}
	slog.Debug("bridge: turn sent", "run_id", turn.RunID, "agent_id", turn.AgentID, "conn", client.id)

	for {
		select {
		case r := <-run.replies:
			_ = deliver(ctx, agent.Reply{Text: r.Text, MediaURLs: r.MediaURLs})
		case err := <-run.done:
			// replies that raced the done frame still go out
			for len(run.replies) > 0 {
				r := <-run.replies
				_ = deliver(ctx, agent.Reply{Text: r.Text, MediaURLs: r.MediaURLs})
			}
			return err
		case <-ctx.Done():
			cancel, _ := protocol.NewFrame(protocol.FrameTurnCancel, uuid.NewString(), turn.RunID, nil)
			_ = client.send(cancel)
			return ctx.Err()
		}
	}
}

func (b *Bridge) forget(runID string) {
	b.mu.Lock()
	delete(b.runs, runID)
	b.mu.Unlock()
}

func (b *Bridge) lookup(runID string, c *Client) *pendingRun {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run := b.runs[runID]
	if run == nil || run.client != c {
		return nil
	}
	return run
}

// handleFrame routes an agent frame to its run.
func (b *Bridge) handleFrame(c *Client, f protocol.Frame) {
	if f.Type == protocol.FrameSend {
		go b.handleSend(c, f)
		return
	}
	run := b.lookup(f.RunID, c)
	if run == nil {
		slog.Debug("bridge: frame for unknown run", "type", f.Type, "run_id", f.RunID, "conn", c.id)
		return
	}
	switch f.Type {
	case protocol.FrameReply:
		var p protocol.ReplyPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			slog.Warn("bridge: bad reply payload", "run_id", f.RunID, "error", err)
			return
		}
		select {
		case run.replies <- p:
		case <-run.gone:
		}
	case protocol.FrameTurnDone:
		var p protocol.DonePayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				slog.Warn("bridge: bad done payload", "run_id", f.RunID, "error", err)
			}
		}
		b.forget(f.RunID)
		var err error
		if p.Error != "" {
			err = fmt.Errorf("agent: %s", p.Error)
		}
		run.finish(err)
	default:
		slog.Debug("bridge: ignoring frame", "type", f.Type, "conn", c.id)
	}
}


// handleSend delivers an agent-initiated message and answers with a send.result frame.
func (b *Bridge) handleSend(c *Client, f protocol.Frame) {
	b.mu.RLock()
	out := b.outbound
	b.mu.RUnlock()

	var msg bus.OutboundMessage
	err := json.Unmarshal(f.Payload, &msg)
	switch {
	case err != nil:
		err = fmt.Errorf("bad send payload: %w", err)
	case out == nil:
		err = errors.New("outbound sends are not enabled")
	default:
		if msg.Channel == "" {
			msg.Channel = defaultChannel
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err = out.Send(ctx, msg)
		cancel()
	}

	result := protocol.SendResultPayload{OK: err == nil}
	if err != nil {
		result.Error = err.Error()
		slog.Warn("bridge: agent send failed", "conn", c.id, "chat_id", msg.ChatID, "error", err)
	}
	resp, _ := protocol.NewFrame(protocol.FrameSendResult, f.ID, "", result)
	if err := c.send(resp); err != nil {
		slog.Debug("bridge: send.result not delivered", "conn", c.id, "error", err)
	}
}

var _ agent.Runtime = (*Bridge)(nil)
