// Package agent defines the boundary between the chat connector and the external agent
// runtime that produces replies, plus the HTTP runtime implementation.
package agent

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
)

// Turn is one finalized conversational turn handed to the agent runtime.
type Turn struct {
	RunID        string            `json:"run_id"`
	AgentID      string            `json:"agent_id"`
	SessionKey   string            `json:"session_key"`
	Channel      string            `json:"channel"`
	AccountID    string            `json:"account_id"`
	ChatID       string            `json:"chat_id"`
	PeerKind     string            `json:"peer_kind"` // "direct" or "group"
	SenderID     string            `json:"sender_id"`
	SenderName   string            `json:"sender_name,omitempty"`
	Content      string            `json:"content"`
	ParentID     string            `json:"parent_id,omitempty"`
	MessageIDs   []string          `json:"message_ids"`
	Attachments  []bus.Attachment  `json:"attachments,omitempty"`
	WasMentioned bool              `json:"was_mentioned"`     // effective: true in DMs and for authorized commands
	RawMentioned bool              `json:"raw_mentioned"`     // the bot was explicitly mentioned or a pattern matched
	AnyMention   bool              `json:"any_mention"`       // some @-mention is present, not necessarily the bot
	Command      string            `json:"command,omitempty"` // control command such as "/reset"
	MatchedBy    string            `json:"matched_by,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Reply is one piece of agent output: text, media URLs, or both.
type Reply struct {
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// Empty reports whether the reply carries nothing to deliver.
func (r Reply) Empty() bool { return r.Text == "" && len(r.MediaURLs) == 0 }

// DeliverFunc sends one reply back to the originating chat.
type DeliverFunc func(ctx context.Context, reply Reply) error

// Runtime runs a turn and streams its replies through deliver. Delivery failures are
// reported by deliver itself; a runtime keeps going after one.
type Runtime interface {
	Dispatch(ctx context.Context, turn Turn, deliver DeliverFunc) error
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, turn Turn, deliver DeliverFunc) error

// Dispatch calls f.
func (f RuntimeFunc) Dispatch(ctx context.Context, turn Turn, deliver DeliverFunc) error {
	return f(ctx, turn, deliver)
}
