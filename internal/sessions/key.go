// Package sessions derives agent identifiers and session keys for chat conversations.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{channel}:{dm|group}:{chatId}
//
// Examples:
//
//	agent:huddle-dm-u42:huddle:dm:d-8f1c
//	agent:huddle-ops-group-c7:huddle:group:c7
//
// Keys are always lower-cased so lookups are insensitive to platform ID casing.
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// Tag returns the short form used inside session keys and agent IDs.
func (k PeerKind) Tag() string {
	if k == PeerGroup {
		return "group"
	}
	return "dm"
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}

// BuildSessionKey builds the canonical agent session key for a channel conversation.
//
//	DM:    agent:{agentId}:{channel}:dm:{chatID}
//	Group: agent:{agentId}:{channel}:group:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return strings.ToLower(fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind.Tag(), chatID))
}
