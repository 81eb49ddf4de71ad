package protocol

import (
	"strings"
	"time"
)

// ChannelType is the chat kind reported by the server.
type ChannelType string

const (
	ChannelDirect  ChannelType = "direct"
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
)

// IsGroup reports whether the channel has more than two participants by nature.
// Unknown types count as groups so mention gating stays on.
func (t ChannelType) IsGroup() bool {
	return t != ChannelDirect
}

// ParseChannelType normalizes server values such as "dm" or "DIRECT".
func ParseChannelType(s string) ChannelType {
	switch strings.ToLower(s) {
	case "direct", "dm", "im":
		return ChannelDirect
	case "private", "group":
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

// User is a Huddle account.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	IsBot       bool   `json:"isBot,omitempty"`
}

// Channel describes a conversation the bot can see.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	MemberCount int    `json:"memberCount,omitempty"`
}

// Kind returns the parsed channel type.
func (c Channel) Kind() ChannelType { return ParseChannelType(c.Type) }

// FileRef is an uploaded file attached to a message.
type FileRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url,omitempty"`
}

// IsImage reports whether the file is an image by MIME type.
func (f FileRef) IsImage() bool { return strings.HasPrefix(f.MimeType, "image/") }

// Message is a chat message as delivered by the transport and returned by the REST API.
type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username,omitempty"`
	Content     string    `json:"content"`
	ParentID    string    `json:"parentId,omitempty"`
	Attachments []FileRef `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PostMessage is the body of a send request.
type PostMessage struct {
	Content     string   `json:"content"`
	ParentID    string   `json:"parentId,omitempty"`
	Attachments []string `json:"attachments,omitempty"` // confirmed file IDs
}
