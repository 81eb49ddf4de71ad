package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names on the realtime socket.
const (
	// server → client
	EvAuthenticated   = "authenticated"
	EvAuthError       = "auth_error"
	EvConnectError    = "connect_error"
	EvChannelCreated  = "channel_created"
	EvChannelJoined   = "channel_joined"
	EvNewMessage      = "new_message"
	EvMessageUpdated  = "message_updated"
	EvMessageDeleted  = "message_deleted"
	EvUserTyping      = "user_typing"
	EvReactionAdded   = "reaction_added"
	EvReactionRemoved = "reaction_removed"
	EvPong            = "pong"

	// client → server
	EvJoinChannel    = "join_channel"
	EvLeaveChannel   = "leave_channel"
	EvTypingStart    = "typing_start"
	EvTypingStop     = "typing_stop"
	EvMarkAsRead     = "mark_as_read"
	EvAddReaction    = "add_reaction"
	EvRemoveReaction = "remove_reaction"
	EvPing           = "ping"
)

// Frame is the JSON envelope of every socket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is anything the transport delivers on its event channel.
type Event interface {
	EventName() string
}

// Identity is the bot user learned from the authenticated event.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Authenticated is emitted after every successful (re)connect.
type Authenticated struct {
	Identity
	Reconnect bool `json:"-"`
}

// AuthFailed is emitted when the server revokes the session mid-stream.
type AuthFailed struct {
	Message string `json:"message"`
}

// Disconnected is emitted when the socket drops. Final is set once reconnection gave up
// or the server refused the session; the transport is then permanently down.
type Disconnected struct {
	Code   int
	Reason string
	Final  bool
	Err    error
}

// ChannelCreated announces a channel the bot was added to.
type ChannelCreated struct {
	Channel Channel `json:"channel"`
}

// ChannelJoined announces a member joining a channel.
type ChannelJoined struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
}

// NewMessage carries an inbound chat message.
type NewMessage struct {
	Message Message `json:"message"`
}

// MessageUpdated carries an edited message.
type MessageUpdated struct {
	Message Message `json:"message"`
}

// MessageDeleted identifies a removed message.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

// UserTyping reports another user typing.
type UserTyping struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// ReactionChanged reports a reaction added (Added) or removed.
type ReactionChanged struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId,omitempty"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"-"`
}

func (Authenticated) EventName() string  { return EvAuthenticated }
func (AuthFailed) EventName() string     { return EvAuthError }
func (Disconnected) EventName() string   { return "disconnect" }
func (ChannelCreated) EventName() string { return EvChannelCreated }
func (ChannelJoined) EventName() string  { return EvChannelJoined }
func (NewMessage) EventName() string     { return EvNewMessage }
func (MessageUpdated) EventName() string { return EvMessageUpdated }
func (MessageDeleted) EventName() string { return EvMessageDeleted }
func (UserTyping) EventName() string     { return EvUserTyping }
func (r ReactionChanged) EventName() string {
	if r.Added {
		return EvReactionAdded
	}
	return EvReactionRemoved
}

// errorPayload is the body of auth_error and connect_error.
type errorPayload struct {
	Message string `json:"message"`
}

// decodeEvent turns a frame into a typed event. Unknown events and pongs return (nil, nil).
func decodeEvent(f Frame) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch f.Event {
	case EvAuthenticated:
		var v Authenticated
		err = unmarshalData(f.Data, &v.Identity)
		ev = v
	case EvAuthError:
		var v AuthFailed
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvChannelCreated:
		var v ChannelCreated
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvChannelJoined:
		var v ChannelJoined
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvNewMessage:
		var v NewMessage
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvMessageUpdated:
		var v MessageUpdated
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvMessageDeleted:
		var v MessageDeleted
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvUserTyping:
		var v UserTyping
		err = unmarshalData(f.Data, &v)
		ev = v
	case EvReactionAdded, EvReactionRemoved:
		var v ReactionChanged
		err = unmarshalData(f.Data, &v)
		v.Added = f.Event == EvReactionAdded
		ev = v
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return ev, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func encodeFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}
