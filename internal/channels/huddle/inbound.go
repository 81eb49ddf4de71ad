package huddle

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/sessions"
)

// consume reads the connection's event stream until the transport closes it.
func (s *Supervisor) consume(st *accountState, conn *Connection) {
	defer close(conn.done)
	for ev := range conn.rt.Events() {
		s.handleEvent(s.ctx, st, conn, ev)
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, st *accountState, conn *Connection, ev protocol.Event) {
	acctID := conn.account.ID

	switch e := ev.(type) {
	case protocol.NewMessage:
		s.onMessage(ctx, st, conn, e.Message)

	case protocol.MessageDeleted:
		if key, ok := conn.pending.Get(e.MessageID); ok && st.debouncer.Drop(key, e.MessageID) {
			slog.Debug("huddle: deleted message removed from pending batch", "account", acctID, "message_id", e.MessageID)
		}

	case protocol.ChannelCreated:
		conn.channels.Put(e.Channel)
		if err := conn.rt.JoinChannel(ctx, e.Channel.ID); err != nil {
			slog.Warn("huddle: join new channel failed", "account", acctID, "channel_id", e.Channel.ID, "error", err)
		}

	case protocol.ChannelJoined:
		// membership changed: the cached kind may be stale (e.g. a DM turned into a group)
		if e.UserID == conn.identity.UserID {
			conn.channels.Forget(e.ChannelID)
			conn.channels.Kind(ctx, e.ChannelID, conn.rest)
		}

	case protocol.Authenticated:
		s.setState(st, conn, StateActive)
		slog.Info("huddle: socket reconnected", "account", acctID)
		go joinChannels(ctx, conn)

	case protocol.AuthFailed:
		slog.Error("huddle: session rejected by server, check the bot token", "account", acctID, "message", e.Message)

	case protocol.Disconnected:
		if !e.Final {
			s.setState(st, conn, StateConnecting)
			slog.Warn("huddle: socket dropped, reconnecting", "account", acctID, "code", e.Code, "reason", e.Reason)
			return
		}
		s.mu.Lock()
		if st.conn == conn {
			st.state = StateDisconnected
			st.lastErr = e.Err
			st.authFailed = protocol.IsAuthError(e.Err)
		}
		s.mu.Unlock()
		slog.Error("huddle: socket closed for good", "account", acctID, "error", e.Err)

	case protocol.MessageUpdated, protocol.UserTyping, protocol.ReactionChanged:
		slog.Debug("huddle: event ignored", "account", acctID, "event", ev.EventName())
	}
}

func (s *Supervisor) onMessage(ctx context.Context, st *accountState, conn *Connection, m protocol.Message) {
	acctID := conn.account.ID
	if m.UserID == "" || m.UserID == conn.identity.UserID {
		return
	}
	if conn.dedupe.seen(m.ID) {
		slog.Debug("huddle: duplicate message skipped", "account", acctID, "message_id", m.ID)
		return
	}
	if !st.limiter.Allow(m.ChannelID + ":" + m.UserID) {
		slog.Warn("huddle: sender rate limited", "account", acctID, "channel_id", m.ChannelID, "sender_id", m.UserID)
		return
	}

	msg := conn.toInbound(ctx, m)
	conn.pending.Add(m.ID, bus.DebounceKey(msg))
	st.debouncer.Push(msg)
}

// toInbound converts a transport message. The chat kind comes from the channel cache
// because message events do not carry it.
func (c *Connection) toInbound(ctx context.Context, m protocol.Message) bus.InboundMessage {
	ts := m.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := bus.InboundMessage{
		ID:         m.ID,
		Channel:    channelName,
		AccountID:  c.account.ID,
		ChatID:     m.ChannelID,
		SenderID:   m.UserID,
		SenderName: m.Username,
		Content:    m.Content,
		ParentID:   m.ParentID,
		PeerKind:   string(sessions.PeerKindFromGroup(c.isGroup(ctx, m.ChannelID))),
		Timestamp:  ts,
		Metadata:   map[string]string{"message_id": m.ID},
	}
	for _, f := range m.Attachments {
		msg.Attachments = append(msg.Attachments, bus.Attachment{
			ID:          f.ID,
			Name:        f.Name,
			ContentType: f.MimeType,
			Size:        f.Size,
			URL:         f.URL,
		})
	}
	return msg
}
