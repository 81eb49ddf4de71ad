// Package protocol defines the WebSocket frames exchanged between huddleclaw and agent
// runtimes connected to its bridge.
package protocol

import "encoding/json"

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

// Frame types sent from huddleclaw to an agent.
const (
	FrameHello      = "hello"       // first frame after connect
	FrameTurn       = "turn"        // payload: agent.Turn
	FrameTurnCancel = "turn.cancel" // the turn's context ended; stop producing replies
	FrameSendResult = "send.result" // answers a send frame; ID echoes the request
)

// Frame types sent from an agent to huddleclaw.
const (
	FrameReply    = "reply"     // payload: ReplyPayload
	FrameTurnDone = "turn.done" // payload: DonePayload
	FrameSend     = "send"      // agent-initiated message; payload: bus.OutboundMessage
)

// Frame is the envelope of every message on the bridge socket.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	RunID   string          `json:"run_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload tells a newly connected agent which protocol version it is talking to.
type HelloPayload struct {
	Protocol int    `json:"protocol"`
	ConnID   string `json:"conn_id"`
	AgentID  string `json:"agent_id,omitempty"` // empty: the connection serves every agent
}

// ReplyPayload carries one piece of agent output for a running turn.
type ReplyPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// DonePayload ends a turn. A non-empty Error marks the run as failed.
type DonePayload struct {
	Error string `json:"error,omitempty"`
}

// SendResultPayload reports the outcome of an agent-initiated send.
type SendResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewFrame builds a frame, marshaling payload. A nil payload is omitted.
func NewFrame(typ, id, runID string, payload any) (Frame, error) {
	f := Frame{Type: typ, ID: id, RunID: runID}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = raw
	return f, nil
}
