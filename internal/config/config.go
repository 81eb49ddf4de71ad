package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the huddleclaw gateway.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Pairing   PairingConfig   `json:"pairing,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
	mu        sync.RWMutex
}

// AgentConfig selects the external agent runtime that receives turns.
type AgentConfig struct {
	Mode       string `json:"mode,omitempty"`        // "http" (default) or "gateway"
	URL        string `json:"url,omitempty"`         // http mode: turn endpoint
	Token      string `json:"token,omitempty"`       // bearer token sent to the http runtime
	TimeoutSec int    `json:"timeout_sec,omitempty"` // per-turn timeout (default 300)
}

// GatewayConfig configures the WebSocket listener agents connect to in "gateway" mode.
type GatewayConfig struct {
	Host           string              `json:"host,omitempty"`
	Port           int                 `json:"port,omitempty"`
	Token          string              `json:"token,omitempty"` // bearer token required from connecting agents
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins,omitempty"`
}

// PairingConfig configures the DM pairing store.
type PairingConfig struct {
	StorePath string `json:"store_path,omitempty"` // SQLite file (default ~/.huddleclaw/pairing.db)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "huddleclaw"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages this binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`             // "huddle"
	AccountID string       `json:"accountId,omitempty"` // bot account ID
	Peer      *BindingPeer `json:"peer,omitempty"`      // specific DM/group
}

// BindingPeer specifies a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Channels = src.Channels
	c.Gateway = src.Gateway
	c.Pairing = src.Pairing
	c.Telemetry = src.Telemetry
	c.Bindings = src.Bindings
}

// HuddleSnapshot returns a copy of the Huddle channel config taken under the read lock.
// Account resolution works on snapshots so a concurrent reload never yields a torn value.
func (c *Config) HuddleSnapshot() HuddleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Channels.Huddle
}

// BindingsSnapshot returns the configured agent bindings.
func (c *Config) BindingsSnapshot() []AgentBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentBinding, len(c.Bindings))
	copy(out, c.Bindings)
	return out
}
