package huddle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/huddleclaw/internal/agent"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
)

// deliver sends one agent reply to channelID, in the thread of parentID. Media is
// uploaded first and attached to the first text chunk. Every failure is logged; the
// joined error is returned for the runtime's bookkeeping.
func (p *Pipeline) deliver(ctx context.Context, conn *Connection, channelID, parentID string, reply agent.Reply) error {
	reply, ok := agent.CleanReply(reply)
	if !ok {
		slog.Debug("huddle: agent reply empty after cleaning", "account", conn.account.ID, "channel_id", channelID)
		return nil
	}
	cfg := p.settings()
	var errs []error

	var fileIDs []string
	for _, src := range reply.MediaURLs {
		ref, err := p.media.upload(ctx, conn, channelID, src, cfg.Media.MaxMediaBytes(), cfg.Media.ImageDimensionLimit())
		if err != nil {
			derr := &protocol.DeliveryError{Op: "upload", ChannelID: channelID, Err: err}
			slog.Warn("huddle: media delivery failed", "account", conn.account.ID, "media", src, "error", derr)
			errs = append(errs, derr)
			continue
		}
		fileIDs = append(fileIDs, ref.ID)
	}

	chunks := chunkText(reply.Text, cfg.ChunkLimit())
	if len(chunks) == 0 && len(fileIDs) > 0 {
		chunks = []string{""}
	}
	for i, chunk := range chunks {
		post := protocol.PostMessage{Content: chunk, ParentID: parentID}
		if i == 0 {
			post.Attachments = fileIDs
		}
		if _, err := conn.rest.SendMessage(ctx, channelID, post); err != nil {
			derr := &protocol.DeliveryError{Op: "send", ChannelID: channelID, Err: err}
			slog.Warn("huddle: reply delivery failed", "account", conn.account.ID, "chunk", i, "error", derr)
			errs = append(errs, derr)
		}
	}
	return errors.Join(errs...)
}

// chunkText splits text into pieces of at most limit runes, preferring to break at a
// newline, then at a space, in the second half of each piece. Pieces are never empty.
func chunkText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		runes := []rune(text)
		if len(runes) <= limit {
			chunks = append(chunks, text)
			break
		}
		hard := len(string(runes[:limit]))
		// one rune past the limit, so a separator right at the boundary still counts
		window := string(runes[:limit+1])
		cut := hard
		if i := strings.LastIndexByte(window, '\n'); i > 0 && i >= hard/2 {
			cut = i
		} else if i := strings.LastIndexByte(window, ' '); i > 0 && i >= hard/2 {
			cut = i
		}
		if piece := strings.TrimRight(text[:cut], " \n"); piece != "" {
			chunks = append(chunks, piece)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	return chunks
}
