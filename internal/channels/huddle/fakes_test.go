package huddle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/huddleclaw/internal/agent"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

// fakeRT is an in-memory realtime transport.
type fakeRT struct {
	mu         sync.Mutex
	identity   protocol.Identity
	connectErr error
	connected  bool
	closed     bool
	last       time.Time
	joined     []string
	typing     []string
	read       []string
	reactions  []string

	events    chan protocol.Event
	closeOnce sync.Once
}

func newFakeRT() *fakeRT {
	return &fakeRT{
		identity: protocol.Identity{UserID: "bot", Username: "huddlebot"},
		events:   make(chan protocol.Event, 32),
	}
}

func (f *fakeRT) Connect(context.Context) (protocol.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return protocol.Identity{}, f.connectErr
	}
	f.connected = true
	f.last = time.Now()
	return f.identity, nil
}

func (f *fakeRT) Events() <-chan protocol.Event { return f.events }

func (f *fakeRT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRT) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeRT) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeRT) record(dst *[]string, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*dst = append(*dst, v)
	return nil
}

func (f *fakeRT) JoinChannel(_ context.Context, id string) error { return f.record(&f.joined, id) }
func (f *fakeRT) LeaveChannel(context.Context, string) error     { return nil }
func (f *fakeRT) StartTyping(_ context.Context, ch, _ string) error {
	return f.record(&f.typing, "start:"+ch)
}
func (f *fakeRT) StopTyping(_ context.Context, ch, _ string) error {
	return f.record(&f.typing, "stop:"+ch)
}
func (f *fakeRT) MarkAsRead(_ context.Context, ch, id string) error {
	return f.record(&f.read, ch+"/"+id)
}
func (f *fakeRT) AddReaction(_ context.Context, id, emoji string) error {
	return f.record(&f.reactions, "+"+emoji+"@"+id)
}
func (f *fakeRT) RemoveReaction(_ context.Context, id, emoji string) error {
	return f.record(&f.reactions, "-"+emoji+"@"+id)
}

func (f *fakeRT) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.connected = false
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
}

func (f *fakeRT) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeRT) snapshot(src *[]string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), (*src)...)
}

type sentMessage struct {
	ChannelID string
	Post      protocol.PostMessage
}

// fakeREST is an in-memory REST API.
type fakeREST struct {
	mu       sync.Mutex
	channels []protocol.Channel
	sent     []sentMessage
	dmCalls  []string
	uploads  []protocol.UploadRequest
	sendErr  error
	nextID   int

	// sends to a channel with a gate block until the gate closes
	gates map[string]chan struct{}
}

func newFakeREST(chans ...protocol.Channel) *fakeREST {
	return &fakeREST{channels: chans}
}

func (f *fakeREST) GetMe(context.Context) (*protocol.User, error) {
	return &protocol.User{ID: "bot", Username: "huddlebot", IsBot: true}, nil
}

func (f *fakeREST) GetUserChannels(context.Context) ([]protocol.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Channel(nil), f.channels...), nil
}

func (f *fakeREST) GetChannel(_ context.Context, id string) (*protocol.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.ID == id {
			c := ch
			return &c, nil
		}
	}
	return nil, &protocol.APIError{Status: 404, Message: "channel not found"}
}

func (f *fakeREST) GetOrCreateDMChannel(_ context.Context, userID string) (*protocol.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls = append(f.dmCalls, userID)
	return &protocol.Channel{ID: "dm-" + userID, Type: "direct"}, nil
}

func (f *fakeREST) SendMessage(ctx context.Context, channelID string, msg protocol.PostMessage) (*protocol.Message, error) {
	f.mu.Lock()
	gate := f.gates[channelID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Post: msg})
	return &protocol.Message{ID: fmt.Sprintf("out-%d", f.nextID), ChannelID: channelID, Content: msg.Content}, nil
}

func (f *fakeREST) UpdateMessage(_ context.Context, id, content string) (*protocol.Message, error) {
	return &protocol.Message{ID: id, Content: content}, nil
}

func (f *fakeREST) DeleteMessage(context.Context, string) error          { return nil }
func (f *fakeREST) AddReaction(context.Context, string, string) error    { return nil }
func (f *fakeREST) RemoveReaction(context.Context, string, string) error { return nil }

func (f *fakeREST) UploadFile(_ context.Context, up protocol.UploadRequest) (*protocol.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	return &protocol.FileRef{ID: fmt.Sprintf("file-%d", len(f.uploads)), Name: up.Name, MimeType: up.ContentType}, nil
}

func (f *fakeREST) GetDownloadURL(_ context.Context, fileID string) (string, error) {
	return "https://files.example.com/" + fileID, nil
}

func (f *fakeREST) BaseURL() string { return "https://chat.example.com/api" }

func (f *fakeREST) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// recordingRuntime records turns and answers each with its replies.
type recordingRuntime struct {
	mu      sync.Mutex
	turns   []agent.Turn
	replies []agent.Reply
	err     error
}

func (r *recordingRuntime) Dispatch(ctx context.Context, turn agent.Turn, deliver agent.DeliverFunc) error {
	r.mu.Lock()
	r.turns = append(r.turns, turn)
	replies, err := r.replies, r.err
	r.mu.Unlock()
	for _, reply := range replies {
		_ = deliver(ctx, reply)
	}
	return err
}

func (r *recordingRuntime) Turns() []agent.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Turn(nil), r.turns...)
}

// memPairing is an in-memory pairing store.
type memPairing struct {
	mu       sync.Mutex
	paired   map[string]bool
	requests int
}

func (m *memPairing) IsPaired(_ context.Context, channel, accountID, senderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paired[channel+"/"+accountID+"/"+senderID], nil
}

func (m *memPairing) RequestPairing(context.Context, store.PairingRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	return "ABCD1234", nil
}

func (m *memPairing) Approve(context.Context, string) (*store.PairedSender, error) {
	return nil, store.ErrPairingNotFound
}

func (m *memPairing) Revoke(context.Context, string, string, string) (bool, error) {
	return false, errors.New("not implemented")
}
func (m *memPairing) ListPending(context.Context) ([]store.PairingRequest, error) { return nil, nil }
func (m *memPairing) ListPaired(context.Context) ([]store.PairedSender, error)    { return nil, nil }
func (m *memPairing) Close() error                                               { return nil }

func testSettings(mut func(*config.HuddleConfig)) func() config.HuddleConfig {
	cfg := config.HuddleConfig{
		Enabled:           true,
		BaseURL:           "https://chat.example.com/api",
		Token:             "tok",
		DMPolicy:          "open",
		InboundDebounceMs: 50,
	}
	if mut != nil {
		mut(&cfg)
	}
	return func() config.HuddleConfig { return cfg }
}

func noEnv(string) string { return "" }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestChannel builds a channel whose connections use rt and rest.
func newTestChannel(settings func() config.HuddleConfig, rt *fakeRT, rest restAPI, runtime agent.Runtime, pairing store.PairingStore) *Channel {
	return New(Options{
		Settings: settings,
		Runtime:  runtime,
		Pairing:  pairing,
		Getenv:   noEnv,
		factory: func(acct Account, _ config.HuddleConfig) *Connection {
			return newConnection(acct, rest, rt)
		},
	})
}
