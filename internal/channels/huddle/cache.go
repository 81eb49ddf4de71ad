package huddle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
)

const (
	channelCacheSize = 2048
	channelCacheTTL  = 30 * time.Minute

	messageDedupCacheSize = 4096
	messageDedupTTL       = 10 * time.Minute
)

// channelFetcher is the slice of the REST client the cache needs.
type channelFetcher interface {
	GetChannel(ctx context.Context, channelID string) (*protocol.Channel, error)
}

// ChannelCache maps channel IDs to their chat kind. Entries are written when the bot
// joins a channel and expire after channelCacheTTL; a miss is filled from the REST API.
type ChannelCache struct {
	entries *expirable.LRU[string, protocol.ChannelType]
}

// NewChannelCache creates an empty cache.
func NewChannelCache() *ChannelCache {
	return &ChannelCache{entries: expirable.NewLRU[string, protocol.ChannelType](channelCacheSize, nil, channelCacheTTL)}
}

// Put records a channel's kind, replacing any previous entry.
func (c *ChannelCache) Put(ch protocol.Channel) {
	if ch.ID == "" {
		return
	}
	c.entries.Add(ch.ID, ch.Kind())
}

// Forget drops a channel, e.g. after the bot leaves it.
func (c *ChannelCache) Forget(channelID string) {
	c.entries.Remove(channelID)
}

// Len returns the number of cached channels.
func (c *ChannelCache) Len() int { return c.entries.Len() }

// Kind returns the channel's kind, fetching it on a miss. When the lookup fails the
// channel is treated as a group so mention gating stays on.
func (c *ChannelCache) Kind(ctx context.Context, channelID string, fetch channelFetcher) protocol.ChannelType {
	if kind, ok := c.entries.Get(channelID); ok {
		return kind
	}
	if fetch == nil {
		return protocol.ChannelPublic
	}
	ch, err := fetch.GetChannel(ctx, channelID)
	if err != nil {
		slog.Warn("huddle channel lookup failed, assuming group",
			"channel_id", channelID, "error", &protocol.DiscoveryError{Op: "get_channel", Err: err})
		return protocol.ChannelPublic
	}
	if ch.ID == "" {
		ch.ID = channelID
	}
	c.Put(*ch)
	return ch.Kind()
}

// messageDeduper remembers recently seen message IDs so redelivered events are
// processed once.
type messageDeduper struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	now   func() time.Time
}

func newMessageDeduper() *messageDeduper {
	cache, _ := lru.New[string, time.Time](messageDedupCacheSize)
	return &messageDeduper{cache: cache, now: time.Now}
}

// seen reports whether messageID was already recorded within the TTL, and records it.
func (d *messageDeduper) seen(messageID string) bool {
	if messageID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.cache.Get(messageID); ok {
		if now.Sub(ts) <= messageDedupTTL {
			return true
		}
		d.cache.Remove(messageID)
	}
	d.cache.Add(messageID, now)
	return false
}
