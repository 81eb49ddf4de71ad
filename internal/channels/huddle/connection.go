package huddle

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

const (
	pendingIndexSize = 1024
	pendingIndexTTL  = 5 * time.Minute
)

// restAPI is the part of the REST client a connection uses.
type restAPI interface {
	GetMe(ctx context.Context) (*protocol.User, error)
	GetUserChannels(ctx context.Context) ([]protocol.Channel, error)
	GetChannel(ctx context.Context, channelID string) (*protocol.Channel, error)
	GetOrCreateDMChannel(ctx context.Context, userID string) (*protocol.Channel, error)
	SendMessage(ctx context.Context, channelID string, msg protocol.PostMessage) (*protocol.Message, error)
	UpdateMessage(ctx context.Context, messageID, content string) (*protocol.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, messageID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, emoji string) error
	UploadFile(ctx context.Context, up protocol.UploadRequest) (*protocol.FileRef, error)
	GetDownloadURL(ctx context.Context, fileID string) (string, error)
	BaseURL() string
}

// realtime is the part of the socket transport a connection uses.
type realtime interface {
	Connect(ctx context.Context) (protocol.Identity, error)
	Events() <-chan protocol.Event
	IsConnected() bool
	LastActivity() time.Time
	JoinChannel(ctx context.Context, channelID string) error
	LeaveChannel(ctx context.Context, channelID string) error
	StartTyping(ctx context.Context, channelID, parentID string) error
	StopTyping(ctx context.Context, channelID, parentID string) error
	MarkAsRead(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, messageID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, emoji string) error
	Close()
}

var (
	_ restAPI  = (*protocol.Client)(nil)
	_ realtime = (*protocol.Transport)(nil)
)

// ConnState is the lifecycle state of one account's connection.
type ConnState string

const (
	StateDisconnected  ConnState = "disconnected"
	StateConnecting    ConnState = "connecting"
	StateAuthenticated ConnState = "authenticated"
	StateActive        ConnState = "active"
	StateUnhealthy     ConnState = "unhealthy"
)

// Connection is the live transport and REST client pair for one account, with the bot
// identity and channel metadata learned after authentication. A rebuild replaces the
// whole Connection; it is never patched in place.
type Connection struct {
	account  Account
	rest     restAPI
	rt       realtime
	identity protocol.Identity
	patterns []*regexp.Regexp
	channels *ChannelCache
	dedupe   *messageDeduper
	pending  *expirable.LRU[string, string] // message ID → debounce key, for deletes

	createdAt    time.Time
	lastOutbound atomic.Int64 // unix nanos of the last successful REST call

	closeOnce sync.Once
	done      chan struct{} // closed when the event loop exits
}

// connFactory builds an unconnected Connection for an account.
type connFactory func(acct Account, cfg config.HuddleConfig) *Connection

func newConnection(acct Account, rest restAPI, rt realtime) *Connection {
	return &Connection{
		account:   acct,
		rest:      rest,
		rt:        rt,
		channels:  NewChannelCache(),
		dedupe:    newMessageDeduper(),
		pending:   expirable.NewLRU[string, string](pendingIndexSize, nil, pendingIndexTTL),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// dialConnection wires the real REST client and socket transport.
func dialConnection(acct Account, cfg config.HuddleConfig) *Connection {
	rps, burst := cfg.Rest.Limits()
	client := protocol.NewClient(protocol.ClientOptions{
		BaseURL:           acct.BaseURL,
		Token:             acct.Token,
		Timeout:           cfg.Rest.Timeout(),
		RequestsPerSecond: rps,
		Burst:             burst,
	})
	transport := protocol.NewTransport(protocol.TransportOptions{
		URL:                  acct.TransportURL,
		Token:                acct.Token,
		PingInterval:         cfg.Transport.PingInterval(),
		HandshakeTimeout:     cfg.Transport.HandshakeTimeout(),
		MaxReconnectAttempts: cfg.Transport.ReconnectAttempts(),
	})
	conn := newConnection(acct, client, transport)
	client.OnSuccess(conn.touchOutbound)
	return conn
}

// Account returns the account snapshot the connection was built from.
func (c *Connection) Account() Account { return c.account }

// Identity returns the bot user.
func (c *Connection) Identity() protocol.Identity { return c.identity }

// IsActive reports whether the socket is open and authenticated.
func (c *Connection) IsActive() bool { return c.rt.IsConnected() }

func (c *Connection) touchOutbound() {
	c.lastOutbound.Store(time.Now().UnixNano())
}

// LastActivity returns the latest inbound frame or successful outbound call. A fresh
// connection counts its creation time as activity.
func (c *Connection) LastActivity() time.Time {
	last := c.createdAt
	if t := c.rt.LastActivity(); t.After(last) {
		last = t
	}
	if n := c.lastOutbound.Load(); n > 0 {
		if t := time.Unix(0, n); t.After(last) {
			last = t
		}
	}
	return last
}

// isGroup reports whether channelID is a multi-member channel, consulting the
// channel cache and falling back to the REST API on a miss.
func (c *Connection) isGroup(ctx context.Context, channelID string) bool {
	return c.channels.Kind(ctx, channelID, c.rest).IsGroup()
}

// close disconnects the socket and waits for the event loop to drain. Safe to call
// more than once, but never from the event loop itself.
func (c *Connection) close(waitLoop bool) {
	c.closeOnce.Do(c.rt.Close)
	if waitLoop {
		<-c.done
	}
}
