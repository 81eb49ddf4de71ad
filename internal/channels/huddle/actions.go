package huddle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
)

// ActionResult is the structured outcome of a host-invoked action.
type ActionResult struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status,omitempty"` // "sent", "edited", "deleted", "reacted", "unreacted"
	MessageID string `json:"message_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func actionFailed(err error) ActionResult {
	return ActionResult{OK: false, Status: "error", Error: err.Error()}
}

// TargetKind says how a send target is addressed.
type TargetKind string

const (
	TargetChannel TargetKind = "channel"
	TargetUser    TargetKind = "user"
)

// Target is a parsed send destination.
type Target struct {
	Kind TargetKind
	ID   string
}

// ParseTarget accepts "user:ID", "@ID", "channel:ID", "#ID" or a bare channel ID, with
// an optional "huddle:" prefix.
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, channelName+":")

	var t Target
	switch {
	case strings.HasPrefix(s, "user:"):
		t = Target{Kind: TargetUser, ID: strings.TrimPrefix(s, "user:")}
	case strings.HasPrefix(s, "@"):
		t = Target{Kind: TargetUser, ID: strings.TrimPrefix(s, "@")}
	case strings.HasPrefix(s, "channel:"):
		t = Target{Kind: TargetChannel, ID: strings.TrimPrefix(s, "channel:")}
	case strings.HasPrefix(s, "#"):
		t = Target{Kind: TargetChannel, ID: strings.TrimPrefix(s, "#")}
	default:
		t = Target{Kind: TargetChannel, ID: s}
	}
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return Target{}, fmt.Errorf("invalid huddle target %q", raw)
	}
	return t, nil
}

// resolveTarget returns the channel ID for t, opening a DM channel for user targets.
func resolveTarget(ctx context.Context, conn *Connection, t Target) (string, error) {
	if t.Kind == TargetChannel {
		return t.ID, nil
	}
	ch, err := conn.rest.GetOrCreateDMChannel(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("open direct channel with %s: %w", t.ID, err)
	}
	if ch.Type == "" {
		ch.Type = string(protocol.ChannelDirect)
	}
	conn.channels.Put(*ch)
	return ch.ID, nil
}

// SendText sends text to a target, splitting it at the configured chunk limit. The
// result carries the ID of the first message sent.
func (c *Channel) SendText(ctx context.Context, accountID, target, text, parentID string) ActionResult {
	conn, channelID, err := c.prepareSend(ctx, accountID, target)
	if err != nil {
		return actionFailed(err)
	}

	chunks := chunkText(text, c.settings().ChunkLimit())
	if len(chunks) == 0 {
		return actionFailed(fmt.Errorf("empty message"))
	}
	res := ActionResult{OK: true, Status: "sent", ChannelID: channelID}
	for i, chunk := range chunks {
		msg, err := conn.rest.SendMessage(ctx, channelID, protocol.PostMessage{Content: chunk, ParentID: parentID})
		if err != nil {
			derr := &protocol.DeliveryError{Op: "send", ChannelID: channelID, Err: err}
			slog.Warn("huddle: send failed", "account", conn.account.ID, "channel_id", channelID, "chunk", i, "error", derr)
			r := actionFailed(derr)
			r.ChannelID, r.MessageID = channelID, res.MessageID
			return r
		}
		if i == 0 {
			res.MessageID = msg.ID
		}
	}
	return res
}

// SendMedia uploads one media file (URL or local path) and sends it with an optional caption.
func (c *Channel) SendMedia(ctx context.Context, accountID, target, mediaURL, caption, parentID string) ActionResult {
	conn, channelID, err := c.prepareSend(ctx, accountID, target)
	if err != nil {
		return actionFailed(err)
	}
	cfg := c.settings()

	ref, err := c.pipeline.media.upload(ctx, conn, channelID, mediaURL, cfg.Media.MaxMediaBytes(), cfg.Media.ImageDimensionLimit())
	if err != nil {
		return actionFailed(&protocol.DeliveryError{Op: "upload", ChannelID: channelID, Err: err})
	}
	msg, err := conn.rest.SendMessage(ctx, channelID, protocol.PostMessage{
		Content:     caption,
		ParentID:    parentID,
		Attachments: []string{ref.ID},
	})
	if err != nil {
		return actionFailed(&protocol.DeliveryError{Op: "send", ChannelID: channelID, Err: err})
	}
	return ActionResult{OK: true, Status: "sent", MessageID: msg.ID, ChannelID: channelID}
}

func (c *Channel) prepareSend(ctx context.Context, accountID, target string) (*Connection, string, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, "", err
	}
	conn, err := c.supervisor.GetConnection(ctx, accountID)
	if err != nil {
		return nil, "", err
	}
	channelID, err := resolveTarget(ctx, conn, t)
	if err != nil {
		return nil, "", err
	}
	return conn, channelID, nil
}

// EditMessage replaces a message's content.
func (c *Channel) EditMessage(ctx context.Context, accountID, messageID, content string) ActionResult {
	conn, err := c.supervisor.GetConnection(ctx, accountID)
	if err != nil {
		return actionFailed(err)
	}
	msg, err := conn.rest.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return actionFailed(err)
	}
	return ActionResult{OK: true, Status: "edited", MessageID: msg.ID, ChannelID: msg.ChannelID}
}

// DeleteMessage removes a message.
func (c *Channel) DeleteMessage(ctx context.Context, accountID, messageID string) ActionResult {
	conn, err := c.supervisor.GetConnection(ctx, accountID)
	if err != nil {
		return actionFailed(err)
	}
	if err := conn.rest.DeleteMessage(ctx, messageID); err != nil {
		return actionFailed(err)
	}
	return ActionResult{OK: true, Status: "deleted", MessageID: messageID}
}

// React adds an emoji reaction as the bot.
func (c *Channel) React(ctx context.Context, accountID, messageID, emoji string) ActionResult {
	conn, err := c.supervisor.GetConnection(ctx, accountID)
	if err != nil {
		return actionFailed(err)
	}
	if err := conn.rest.AddReaction(ctx, messageID, normalizeEmoji(emoji)); err != nil {
		return actionFailed(err)
	}
	return ActionResult{OK: true, Status: "reacted", MessageID: messageID}
}

// Unreact removes the bot's emoji reaction.
func (c *Channel) Unreact(ctx context.Context, accountID, messageID, emoji string) ActionResult {
	conn, err := c.supervisor.GetConnection(ctx, accountID)
	if err != nil {
		return actionFailed(err)
	}
	if err := conn.rest.RemoveReaction(ctx, messageID, normalizeEmoji(emoji)); err != nil {
		return actionFailed(err)
	}
	return ActionResult{OK: true, Status: "unreacted", MessageID: messageID}
}

// normalizeEmoji accepts ":eyes:" as well as "eyes".
func normalizeEmoji(emoji string) string {
	return strings.Trim(strings.TrimSpace(emoji), ":")
}
