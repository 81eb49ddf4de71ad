package bus

import (
	"strings"
	"time"
)

// InboundMessage represents a message received from a channel.
type InboundMessage struct {
	ID          string            `json:"id"`
	Channel     string            `json:"channel"`    // channel type, e.g. "huddle"
	AccountID   string            `json:"account_id"` // bot account that received the message
	ChatID      string            `json:"chat_id"`    // platform channel/conversation ID
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	Content     string            `json:"content"`
	ParentID    string            `json:"parent_id,omitempty"` // thread/reply pointer
	Attachments []Attachment      `json:"attachments,omitempty"`
	PeerKind    string            `json:"peer_kind,omitempty"` // "direct" or "group"
	Timestamp   time.Time         `json:"timestamp"`
	MergedIDs   []string          `json:"merged_ids,omitempty"` // ordered IDs of every message folded into this one
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsGroup reports whether the message came from a multi-member channel.
func (m InboundMessage) IsGroup() bool { return m.PeerKind == "group" }

// MessageIDs returns the ordered IDs this message stands for.
func (m InboundMessage) MessageIDs() []string {
	if len(m.MergedIDs) > 0 {
		return m.MergedIDs
	}
	if m.ID == "" {
		return nil
	}
	return []string{m.ID}
}

// FirstID returns the ID of the earliest merged message.
func (m InboundMessage) FirstID() string {
	ids := m.MessageIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// LastID returns the ID of the latest merged message.
func (m InboundMessage) LastID() string {
	ids := m.MessageIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[len(ids)-1]
}

// Attachment is a file attached to an inbound message.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"` // download URL, resolved lazily when empty
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	ChatID    string            `json:"chat_id"` // channel ID or a target such as "user:42"
	Content   string            `json:"content"`
	ParentID  string            `json:"parent_id,omitempty"`
	Media     []MediaAttachment `json:"media,omitempty"`    // optional media attachments
	Metadata  map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg", "video/mp4")
	Caption     string `json:"caption,omitempty"`      // optional caption for media
}

// DebounceKey groups messages that may be merged into one turn:
// same account, same channel, same sender.
func DebounceKey(m InboundMessage) string {
	return strings.Join([]string{m.AccountID, m.ChatID, m.SenderID}, "\x00")
}

// MergeBatch folds an ordered batch into one synthetic message. Content is joined with
// newlines in arrival order, attachments are concatenated, and every source ID is kept
// in MergedIDs. The last message supplies the thread pointer and timestamp.
func MergeBatch(batch []InboundMessage) InboundMessage {
	if len(batch) == 0 {
		return InboundMessage{}
	}
	if len(batch) == 1 {
		return batch[0]
	}

	last := batch[len(batch)-1]
	merged := batch[0]
	merged.ParentID = last.ParentID
	merged.Timestamp = last.Timestamp
	merged.SenderName = last.SenderName
	merged.ID = last.ID

	parts := make([]string, 0, len(batch))
	ids := make([]string, 0, len(batch))
	var atts []Attachment
	for _, m := range batch {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
		ids = append(ids, m.MessageIDs()...)
		atts = append(atts, m.Attachments...)
	}
	merged.Content = strings.Join(parts, "\n")
	merged.MergedIDs = ids
	merged.Attachments = atts

	if len(batch[0].Metadata) > 0 || len(last.Metadata) > 0 {
		md := make(map[string]string, len(batch[0].Metadata)+len(last.Metadata))
		for k, v := range batch[0].Metadata {
			md[k] = v
		}
		for k, v := range last.Metadata {
			md[k] = v
		}
		merged.Metadata = md
	}
	return merged
}
