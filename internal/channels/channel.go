// Package channels provides the channel abstraction layer between chat platforms and the
// agent runtime: the Channel interface, the lifecycle manager, DM policies, allowlist
// matching and per-sender flood control.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"   // Require pairing code
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// ParseDMPolicy normalizes a configured policy string; unknown or empty values fall back to pairing.
func ParseDMPolicy(s string) DMPolicy {
	switch p := DMPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DMPolicyPairing, DMPolicyAllowlist, DMPolicyOpen, DMPolicyDisabled:
		return p
	case "":
		return DMPolicyPairing
	default:
		slog.Warn("unknown dm_policy, using pairing", "value", s)
		return DMPolicyPairing
	}
}

// PolicyDecision is the outcome of a DM policy check.
type PolicyDecision int

const (
	PolicyAllow PolicyDecision = iota
	PolicyDeny
	PolicyPair // unknown sender under pairing policy: issue or repeat a pairing code
)

// CheckDMPolicy evaluates a DM from senderID. paired reports whether the sender has an
// approved pairing; it only matters under the pairing policy.
func CheckDMPolicy(policy DMPolicy, allowList []string, senderID string, paired bool) PolicyDecision {
	switch policy {
	case DMPolicyDisabled:
		return PolicyDeny
	case DMPolicyOpen:
		return PolicyAllow
	case DMPolicyAllowlist:
		if len(allowList) > 0 && IsAllowed(allowList, senderID) {
			return PolicyAllow
		}
		return PolicyDeny
	default: // pairing
		if (len(allowList) > 0 && IsAllowed(allowList, senderID)) || paired {
			return PolicyAllow
		}
		return PolicyPair
	}
}

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "huddle").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// StatusChannel is implemented by channels that can report per-account connection health.
type StatusChannel interface {
	Channel
	Status(ctx context.Context) []AccountStatus
}

// AccountStatus is the probe result for one bot account.
type AccountStatus struct {
	AccountID           string `json:"account_id"`
	Enabled             bool   `json:"enabled"`
	Configured          bool   `json:"configured"`
	Connected           bool   `json:"connected"`
	BaseURL             string `json:"base_url,omitempty"`
	TokenSource         string `json:"token_source,omitempty"`
	BotUserID           string `json:"bot_user_id,omitempty"`
	BotUsername         string `json:"bot_username,omitempty"`
	State               string `json:"state,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastActivity        string `json:"last_activity,omitempty"`
	Error               string `json:"error,omitempty"`
}

// BaseChannel provides shared functionality for channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name    string
	running atomic.Bool
}

// NewBaseChannel creates a new BaseChannel.
func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username", and "*" as a wildcard.
// Empty allowlist means all senders are allowed.
func IsAllowed(allowList []string, senderID string) bool {
	if len(allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range allowList {
		if allowed == "*" {
			return true
		}
		// Strip leading "@" from allowed value for username matching
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && strings.EqualFold(userPart, allowedUser)) ||
			(userPart != "" && strings.EqualFold(userPart, trimmed)) {
			return true
		}
	}

	return false
}
