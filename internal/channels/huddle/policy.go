package huddle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

const pairingDebounce = 60 * time.Second

// allowDM enforces the account's DM policy for a merged direct message.
func (p *Pipeline) allowDM(ctx context.Context, conn *Connection, msg bus.InboundMessage) bool {
	acct := conn.Account()

	paired := false
	if acct.DMPolicy == channels.DMPolicyPairing && p.pairing != nil {
		ok, err := p.pairing.IsPaired(ctx, channelName, acct.ID, msg.SenderID)
		if err != nil {
			slog.Warn("huddle pairing lookup failed", "account", acct.ID, "sender_id", msg.SenderID, "error", err)
		}
		paired = ok
	}

	switch channels.CheckDMPolicy(acct.DMPolicy, acct.AllowFrom, msg.SenderID, paired) {
	case channels.PolicyAllow:
		return true
	case channels.PolicyPair:
		// off the delivery goroutine; the per-sender lane keeps the reply dedupe ordered
		p.lanes.submit("pairing:"+acct.ID+":"+msg.SenderID, func() {
			p.sendPairingReply(ctx, conn, msg)
		})
		return false
	default:
		slog.Debug("huddle DM rejected by policy", "account", acct.ID, "policy", acct.DMPolicy, "sender_id", msg.SenderID)
		return false
	}
}

func (p *Pipeline) sendPairingReply(ctx context.Context, conn *Connection, msg bus.InboundMessage) {
	if p.pairing == nil {
		slog.Debug("huddle DM rejected: pairing policy without a pairing store", "sender_id", msg.SenderID)
		return
	}
	acct := conn.Account()

	// one reply per sender per minute
	debounceKey := acct.ID + ":" + msg.SenderID
	if lastSent, ok := p.pairingReplySent.Load(debounceKey); ok {
		if time.Since(lastSent.(time.Time)) < pairingDebounce {
			return
		}
	}

	code, err := p.pairing.RequestPairing(ctx, store.PairingRequest{
		Channel:    channelName,
		AccountID:  acct.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		ChatID:     msg.ChatID,
	})
	if err != nil {
		slog.Debug("huddle pairing request failed", "sender_id", msg.SenderID, "error", err)
		return
	}

	replyText := fmt.Sprintf(
		"HuddleClaw: access not configured.\n\nYour Huddle user id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  huddleclaw pairing approve %s",
		msg.SenderID, code, code,
	)

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := conn.rest.SendMessage(sendCtx, msg.ChatID, protocol.PostMessage{Content: replyText}); err != nil {
		slog.Warn("huddle: failed to send pairing reply", "error", err)
		return
	}
	p.pairingReplySent.Store(debounceKey, time.Now())
	slog.Info("huddle pairing reply sent", "account", acct.ID, "sender_id", msg.SenderID, "code", code)
}
