// Package proto defines the WebSocket wire envelopes. The real-time channel
// carries exactly two things: a join handshake from the client and message
// pushes from the server. Everything else goes over the REST surface.
package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	// InboundTypeHello binds the connection to the authenticated user in
	// the relay gateway. It must be the first frame a client sends.
	InboundTypeHello = "hello"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	// EventNameMessage is the server push carrying a persisted message.
	EventNameMessage = "message"
)

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is the payload pushed to the recipient of a new message.
type EventMessage struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	Read           bool      `json:"read"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
