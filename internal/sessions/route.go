package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

const maxTokenLen = 48

// Route is the resolved agent and session for one conversation.
type Route struct {
	AgentID    string
	SessionKey string
	PeerKind   PeerKind
	MatchedBy  string // "binding.peer", "binding.account", "binding.channel" or "default"
}

// RouteInput identifies the conversation a message belongs to.
type RouteInput struct {
	Channel   string // channel type, also the agent ID namespace (e.g. "huddle")
	AccountID string
	ChatID    string
	SenderID  string
	IsGroup   bool
}

// ResolveRoute derives the agent ID and session key for a conversation.
// It is a pure function of its inputs: the same conversation always maps to the same
// route. Groups key on the chat ID so every member shares one agent; DMs key on the
// sender so two users never share one.
func ResolveRoute(in RouteInput, bindings []config.AgentBinding) Route {
	kind := PeerKindFromGroup(in.IsGroup)

	agentID, matchedBy := matchBinding(in, kind, bindings)
	if agentID == "" {
		agentID = DeriveAgentID(in.Channel, in.AccountID, kind, discriminator(in))
		matchedBy = "default"
	}

	return Route{
		AgentID:    agentID,
		SessionKey: BuildSessionKey(agentID, in.Channel, kind, in.ChatID),
		PeerKind:   kind,
		MatchedBy:  matchedBy,
	}
}

// DeriveAgentID builds "{namespace}[-{account}]-{dm|group}-{id}". The account segment is
// omitted for the default account so single-account deployments keep stable IDs when a
// second account is added later.
func DeriveAgentID(namespace, accountID string, kind PeerKind, id string) string {
	parts := []string{SanitizeToken(namespace)}
	if accountID != "" && !strings.EqualFold(accountID, config.DefaultAccountID) {
		parts = append(parts, SanitizeToken(accountID))
	}
	parts = append(parts, kind.Tag(), SanitizeToken(id))
	return strings.Join(parts, "-")
}

// SanitizeToken maps an arbitrary platform ID onto [a-z0-9_-]. When the mapping is lossy
// (case folding, replaced characters, truncation) a short hash of the raw value is appended
// so distinct IDs never collapse into the same token.
func SanitizeToken(raw string) string {
	if raw == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastDash := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	token := strings.Trim(b.String(), "-")
	if len(token) > maxTokenLen {
		token = strings.TrimRight(token[:maxTokenLen], "-")
	}
	if token == raw {
		return token
	}
	sum := sha256.Sum256([]byte(raw))
	if token == "" {
		return hex.EncodeToString(sum[:4])
	}
	return token + "-" + hex.EncodeToString(sum[:4])
}

// NormalizeAgentID cleans a configured agent ID (bindings) into the same token set.
func NormalizeAgentID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.ToLower(id)
}

func discriminator(in RouteInput) string {
	if in.IsGroup {
		return in.ChatID
	}
	return in.SenderID
}

// matchBinding returns the agent pinned by the most specific matching binding.
func matchBinding(in RouteInput, kind PeerKind, bindings []config.AgentBinding) (string, string) {
	var accountMatch, channelMatch string
	for _, b := range bindings {
		m := b.Match
		if m.Channel != in.Channel {
			continue
		}
		if m.AccountID != "" && !strings.EqualFold(m.AccountID, in.AccountID) {
			continue
		}

		// Peer-level match (most specific)
		if m.Peer != nil {
			if PeerKind(m.Peer.Kind) != kind {
				continue
			}
			if m.Peer.ID == in.ChatID || (kind == PeerDirect && m.Peer.ID == in.SenderID) {
				return NormalizeAgentID(b.AgentID), "binding.peer"
			}
			continue
		}

		if m.AccountID != "" {
			if accountMatch == "" {
				accountMatch = NormalizeAgentID(b.AgentID)
			}
			continue
		}
		if channelMatch == "" {
			channelMatch = NormalizeAgentID(b.AgentID)
		}
	}
	if accountMatch != "" {
		return accountMatch, "binding.account"
	}
	if channelMatch != "" {
		return channelMatch, "binding.channel"
	}
	return "", ""
}
