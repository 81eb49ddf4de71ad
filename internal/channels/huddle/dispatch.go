package huddle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/huddleclaw/internal/agent"
	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/typing"
	"github.com/nextlevelbuilder/huddleclaw/internal/config"
	"github.com/nextlevelbuilder/huddleclaw/internal/sessions"
	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

const (
	typingKeepalive   = 4 * time.Second
	typingMaxDuration = 5 * time.Minute

	reactionWorking = "eyes"
	reactionFailed  = "warning"
)

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Runtime    agent.Runtime
	Pairing    store.PairingStore // nil: pairing policy rejects unknown senders silently
	Settings   func() config.HuddleConfig
	Bindings   func() []config.AgentBinding
	Tracer     trace.Tracer
	HTTPClient *http.Client // media downloads
}

// Pipeline turns debounced batches into agent turns: DM policy, mention gating,
// routing, then dispatch with typing indicators and reply delivery. Turns for one
// session run in order; different sessions run concurrently.
type Pipeline struct {
	runtime  agent.Runtime
	pairing  store.PairingStore
	settings func() config.HuddleConfig
	bindings func() []config.AgentBinding
	tracer   trace.Tracer
	media    *mediaLoader
	lanes    *sessionLanes

	typingCtrls      sync.Map // accountID:chatID → *typing.Controller
	pairingReplySent sync.Map // accountID:senderID → time.Time
}

// NewPipeline creates a dispatch pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Bindings == nil {
		opts.Bindings = func() []config.AgentBinding { return nil }
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle")
	}
	return &Pipeline{
		runtime:  opts.Runtime,
		pairing:  opts.Pairing,
		settings: opts.Settings,
		bindings: opts.Bindings,
		tracer:   opts.Tracer,
		media:    newMediaLoader(opts.HTTPClient),
		lanes:    newSessionLanes(),
	}
}

// Handle is the debouncer's flush target. The batch is merged, filtered and routed
// synchronously; the agent run itself is queued on the session's lane.
func (p *Pipeline) Handle(ctx context.Context, conn *Connection, batch []bus.InboundMessage) {
	if len(batch) == 0 || conn == nil {
		return
	}
	msg := bus.MergeBatch(batch)
	acct := conn.Account()
	cfg := p.settings()

	if len(batch) > 1 {
		slog.Debug("inbound: merged debounced messages",
			"account", acct.ID,
			"chat_id", msg.ChatID,
			"count", len(batch),
			"first_id", msg.FirstID(),
			"last_id", msg.LastID(),
		)
	}

	command, isCommand := ParseControlCommand(msg.Content)
	mention := MentionDecision{WasMentioned: true, EffectiveWasMentioned: true, HasAnyMention: hasAnyMention(msg.Content)}
	if msg.IsGroup() {
		mention = EvaluateMention(MentionInput{
			Content:           msg.Content,
			BotUserID:         conn.identity.UserID,
			Patterns:          conn.patterns,
			RequireMention:    acct.RequireMention(msg.ChatID),
			AllowTextCommands: cfg.TextCommandsAllowed(),
			IsControlCommand:  isCommand,
		})
		if mention.ShouldSkip {
			slog.Debug("inbound: group message skipped, bot not mentioned",
				"account", acct.ID, "chat_id", msg.ChatID, "sender_id", msg.SenderID)
			return
		}
	} else if !p.allowDM(ctx, conn, msg) {
		return
	}

	route := sessions.ResolveRoute(sessions.RouteInput{
		Channel:   channelName,
		AccountID: acct.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		IsGroup:   msg.IsGroup(),
	}, p.bindings())

	turn := agent.Turn{
		RunID:        fmt.Sprintf("inbound-%s-%s-%s", channelName, msg.ChatID, uuid.NewString()[:8]),
		AgentID:      route.AgentID,
		SessionKey:   route.SessionKey,
		Channel:      channelName,
		AccountID:    acct.ID,
		ChatID:       msg.ChatID,
		PeerKind:     string(route.PeerKind),
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		Content:      stripBotMention(msg.Content, conn.identity.UserID),
		ParentID:     msg.ParentID,
		MessageIDs:   msg.MessageIDs(),
		Attachments:  msg.Attachments,
		WasMentioned: mention.EffectiveWasMentioned,
		RawMentioned: mention.WasMentioned,
		AnyMention:   mention.HasAnyMention,
		Command:      command,
		MatchedBy:    route.MatchedBy,
		Timestamp:    msg.Timestamp,
		Metadata:     msg.Metadata,
	}

	slog.Info("inbound: scheduling message",
		"channel", channelName,
		"account", acct.ID,
		"chat_id", msg.ChatID,
		"peer_kind", turn.PeerKind,
		"agent", route.AgentID,
		"session", route.SessionKey,
		"matched_by", route.MatchedBy,
	)

	p.lanes.submit(route.SessionKey, func() {
		p.run(ctx, conn, turn, cfg.StatusReactions)
	})
}

// run dispatches one turn. Typing and status indicators are always cleared, whatever
// the outcome.
func (p *Pipeline) run(ctx context.Context, conn *Connection, turn agent.Turn, statusReactions bool) {
	ctx, span := p.tracer.Start(ctx, "huddle.dispatch", trace.WithAttributes(
		attribute.String("huddle.account", turn.AccountID),
		attribute.String("huddle.chat_id", turn.ChatID),
		attribute.String("huddle.peer_kind", turn.PeerKind),
		attribute.String("agent.id", turn.AgentID),
		attribute.String("agent.run_id", turn.RunID),
		attribute.Int("huddle.merged_count", len(turn.MessageIDs)),
	))
	defer span.End()

	lastID := ""
	if n := len(turn.MessageIDs); n > 0 {
		lastID = turn.MessageIDs[n-1]
	}
	if lastID != "" {
		if err := conn.rt.MarkAsRead(ctx, turn.ChatID, lastID); err != nil {
			slog.Debug("huddle mark_as_read failed", "chat_id", turn.ChatID, "error", err)
		}
	}

	ctrl := p.startTyping(ctx, conn, turn.ChatID, turn.ParentID)
	reacted := statusReactions && lastID != "" && conn.rt.AddReaction(ctx, lastID, reactionWorking) == nil

	var runErr error
	defer func() {
		ctrl.Stop()
		p.typingCtrls.CompareAndDelete(typingKey(turn.AccountID, turn.ChatID), ctrl)
		if reacted {
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = conn.rt.RemoveReaction(cleanup, lastID, reactionWorking)
			if runErr != nil {
				_ = conn.rt.AddReaction(cleanup, lastID, reactionFailed)
			}
			cancel()
		}
	}()

	p.media.resolveAttachmentURLs(ctx, conn, turn.Attachments)

	runErr = p.runtime.Dispatch(ctx, turn, func(ctx context.Context, reply agent.Reply) error {
		return p.deliver(ctx, conn, turn.ChatID, turn.ParentID, reply)
	})
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		slog.Error("inbound: agent run failed", "run_id", turn.RunID, "session", turn.SessionKey, "error", runErr)
		return
	}
	slog.Debug("inbound: agent run finished", "run_id", turn.RunID, "session", turn.SessionKey)
}

func typingKey(accountID, chatID string) string { return accountID + ":" + chatID }

func (p *Pipeline) startTyping(ctx context.Context, conn *Connection, chatID, parentID string) *typing.Controller {
	stopCtx := context.WithoutCancel(ctx)
	ctrl := typing.New(typing.Options{
		MaxDuration:       typingMaxDuration,
		KeepaliveInterval: typingKeepalive,
		StartFn: func() error {
			return conn.rt.StartTyping(ctx, chatID, parentID)
		},
		StopFn: func() error {
			c, cancel := context.WithTimeout(stopCtx, 5*time.Second)
			defer cancel()
			return conn.rt.StopTyping(c, chatID, parentID)
		},
	})
	key := typingKey(conn.account.ID, chatID)
	if prev, ok := p.typingCtrls.Swap(key, ctrl); ok {
		prev.(*typing.Controller).Stop()
	}
	ctrl.Start()
	return ctrl
}

// Wait blocks until every queued agent run has finished.
func (p *Pipeline) Wait() { p.lanes.wait() }

// Stop clears any typing indicators still running.
func (p *Pipeline) Stop() {
	p.typingCtrls.Range(func(key, value any) bool {
		value.(*typing.Controller).Stop()
		p.typingCtrls.Delete(key)
		return true
	})
}
