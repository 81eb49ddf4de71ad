package config

import (
	"sort"
	"time"
)

// DefaultAccountID names the implicit account built from the top-level Huddle fields.
const DefaultAccountID = "default"

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Huddle HuddleConfig `json:"huddle"`
}

// HuddleConfig configures the Huddle team-messaging channel.
// Top-level fields describe the default account and act as fallbacks for entries in Accounts.
type HuddleConfig struct {
	Enabled           bool                            `json:"enabled"`
	Name              string                          `json:"name,omitempty"`
	BaseURL           string                          `json:"base_url,omitempty"`      // REST API root, e.g. "https://chat.example.com/api"
	TransportURL      string                          `json:"transport_url,omitempty"` // realtime endpoint; derived from BaseURL when empty
	Token             string                          `json:"token,omitempty"`
	DMPolicy          string                          `json:"dm_policy,omitempty"` // "pairing" (default), "allowlist", "open", "disabled"
	AllowFrom         FlexibleStringSlice             `json:"allow_from,omitempty"`
	RequireMention    *bool                           `json:"require_mention,omitempty"` // group default when no group entry matches (default true)
	Groups            map[string]*HuddleGroupConfig   `json:"groups,omitempty"`          // keyed by channel ID or "*"
	MentionPatterns   []string                        `json:"mention_patterns,omitempty"`
	AllowTextCommands *bool                           `json:"allow_text_commands,omitempty"` // control commands bypass mention gating (default true)
	StatusReactions   bool                            `json:"status_reactions,omitempty"`
	TextChunkLimit    int                             `json:"text_chunk_limit,omitempty"`     // default 4000
	InboundDebounceMs int                             `json:"inbound_debounce_ms,omitempty"`  // default 1000, -1 disables
	InboundRatePerMin int                             `json:"inbound_rate_per_min,omitempty"` // per-sender flood limit (default 30, -1 disables)
	Watchdog          WatchdogConfig                  `json:"watchdog,omitempty"`
	Transport         TransportConfig                 `json:"transport,omitempty"`
	Rest              RestConfig                      `json:"rest,omitempty"`
	Media             MediaConfig                     `json:"media,omitempty"`
	DefaultAccount    string                          `json:"default_account,omitempty"`
	Accounts          map[string]*HuddleAccountConfig `json:"accounts,omitempty"`
}

// HuddleAccountConfig overrides HuddleConfig fields for one bot account.
// Zero values inherit from the top-level HuddleConfig.
type HuddleAccountConfig struct {
	Enabled         *bool                         `json:"enabled,omitempty"`
	Name            string                        `json:"name,omitempty"`
	BaseURL         string                        `json:"base_url,omitempty"`
	TransportURL    string                        `json:"transport_url,omitempty"`
	Token           string                        `json:"token,omitempty"`
	DMPolicy        string                        `json:"dm_policy,omitempty"`
	AllowFrom       FlexibleStringSlice           `json:"allow_from,omitempty"`
	RequireMention  *bool                         `json:"require_mention,omitempty"`
	Groups          map[string]*HuddleGroupConfig `json:"groups,omitempty"`
	MentionPatterns []string                      `json:"mention_patterns,omitempty"`
}

// HuddleGroupConfig holds per-channel group settings.
type HuddleGroupConfig struct {
	RequireMention *bool `json:"require_mention,omitempty"`
}

// WatchdogConfig tunes connection health supervision.
type WatchdogConfig struct {
	IntervalSec      int `json:"interval_sec,omitempty"`      // default 60
	FailureThreshold int `json:"failure_threshold,omitempty"` // consecutive unhealthy ticks before rebuild (default 3)
	StaleAfterSec    int `json:"stale_after_sec,omitempty"`   // max silence before a connection counts as unhealthy (default 180)
}

// TransportConfig tunes the realtime socket.
type TransportConfig struct {
	PingIntervalSec      int `json:"ping_interval_sec,omitempty"`      // default 25
	MaxReconnectAttempts int `json:"max_reconnect_attempts,omitempty"` // default 5
	HandshakeTimeoutSec  int `json:"handshake_timeout_sec,omitempty"`  // default 15
}

// RestConfig tunes the REST client.
type RestConfig struct {
	TimeoutSec        int     `json:"timeout_sec,omitempty"`         // default 30
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// MediaConfig bounds media transfers.
type MediaConfig struct {
	MaxBytes          int64 `json:"max_bytes,omitempty"`           // default 20MB
	MaxImageDimension int   `json:"max_image_dimension,omitempty"` // images larger than this are downscaled before upload (default 2048, -1 disables)
}

// AccountIDs returns the configured account IDs in stable order.
// With no explicit accounts the implicit default account is returned.
func (h HuddleConfig) AccountIDs() []string {
	if len(h.Accounts) == 0 {
		return []string{DefaultAccountID}
	}
	ids := make([]string, 0, len(h.Accounts))
	for id := range h.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DebounceWindow returns the inbound debounce window. Zero means disabled.
func (h HuddleConfig) DebounceWindow() time.Duration {
	switch {
	case h.InboundDebounceMs < 0:
		return 0
	case h.InboundDebounceMs == 0:
		return 1000 * time.Millisecond
	default:
		return time.Duration(h.InboundDebounceMs) * time.Millisecond
	}
}

// TextCommandsAllowed reports whether control commands may bypass mention gating.
func (h HuddleConfig) TextCommandsAllowed() bool {
	return h.AllowTextCommands == nil || *h.AllowTextCommands
}

// ChunkLimit returns the maximum characters per outbound text message.
func (h HuddleConfig) ChunkLimit() int {
	if h.TextChunkLimit > 0 {
		return h.TextChunkLimit
	}
	return 4000
}

// Interval returns the watchdog tick interval.
func (w WatchdogConfig) Interval() time.Duration {
	return secondsOr(w.IntervalSec, 60)
}

// Threshold returns the number of consecutive failures that triggers a rebuild.
func (w WatchdogConfig) Threshold() int {
	if w.FailureThreshold > 0 {
		return w.FailureThreshold
	}
	return 3
}

// StaleAfter returns how long a connection may stay silent before it counts as unhealthy.
func (w WatchdogConfig) StaleAfter() time.Duration {
	return secondsOr(w.StaleAfterSec, 180)
}

// PingInterval returns the heartbeat interval.
func (t TransportConfig) PingInterval() time.Duration {
	return secondsOr(t.PingIntervalSec, 25)
}

// ReconnectAttempts returns the transport-level reconnect budget.
func (t TransportConfig) ReconnectAttempts() int {
	if t.MaxReconnectAttempts > 0 {
		return t.MaxReconnectAttempts
	}
	return 5
}

// HandshakeTimeout bounds the wait for the authenticated event.
func (t TransportConfig) HandshakeTimeout() time.Duration {
	return secondsOr(t.HandshakeTimeoutSec, 15)
}

// Timeout returns the per-request REST timeout.
func (r RestConfig) Timeout() time.Duration {
	return secondsOr(r.TimeoutSec, 30)
}

// Limits returns the REST rate limit and burst.
func (r RestConfig) Limits() (float64, int) {
	rps, burst := r.RequestsPerSecond, r.Burst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return rps, burst
}

// MaxMediaBytes returns the media download/upload cap.
func (m MediaConfig) MaxMediaBytes() int64 {
	if m.MaxBytes > 0 {
		return m.MaxBytes
	}
	return 20 * 1024 * 1024
}

// ImageDimensionLimit returns the max image edge in pixels, 0 when resizing is disabled.
func (m MediaConfig) ImageDimensionLimit() int {
	switch {
	case m.MaxImageDimension < 0:
		return 0
	case m.MaxImageDimension == 0:
		return 2048
	default:
		return m.MaxImageDimension
	}
}

func secondsOr(v, def int) time.Duration {
	if v > 0 {
		return time.Duration(v) * time.Second
	}
	return time.Duration(def) * time.Second
}
