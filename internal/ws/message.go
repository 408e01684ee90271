package ws

import (
	"github.com/beamchat/internal/model"
)

type EventType string

// Client -> server.
const (
	EventJoinRoom      EventType = "join-room"
	EventLeaveRoom     EventType = "leave-room"
	EventTyping        EventType = "typing"
	EventMessageCreate EventType = "message-create"
	EventMessageAudio  EventType = "message-audio"
)

// Server -> client.
const (
	EventMessageNew      EventType = "message-new"
	EventMemberJoined    EventType = "member-joined"
	EventMemberLeft      EventType = "member-left"
	EventPresenceChanged EventType = "presence-changed"
	EventAck             EventType = "ack"
)

// IncomingFrame is what the client sends to the server. Every request frame
// except typing carries an ack_id the server echoes back in its ack.
type IncomingFrame struct {
	Type   EventType `json:"type"`
	AckID  string    `json:"ack_id,omitempty"`
	ChatID string    `json:"chat_id,omitempty"`

	Text  string       `json:"text,omitempty"`
	Image *ImageUpload `json:"image,omitempty"`
	Audio *AudioUpload `json:"audio,omitempty"`

	// Typing carries the start/stop flag of a typing frame.
	Typing bool `json:"typing,omitempty"`
}

// ImageUpload is an inline image; Data is base64 on the wire.
type ImageUpload struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
	Caption     string `json:"caption,omitempty"`
}

// AudioUpload is an inline voice recording; Data is base64 on the wire.
type AudioUpload struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
}

// OutgoingFrame is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingFrame struct {
	Type    EventType `json:"type"`
	AckID   string    `json:"ack_id,omitempty"`
	Payload any       `json:"payload"`
}

// AckPayload answers one request frame; exactly one per request.
type AckPayload struct {
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

// MemberPayload is broadcast on member-joined / member-left.
type MemberPayload struct {
	ChatID      string `json:"chat_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// TypingPayload is broadcast to the other members of the room.
type TypingPayload struct {
	ChatID      string `json:"chat_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Typing      bool   `json:"typing"`
}

// PresencePayload carries the full active user-id list; sent to every client
// whenever a user's first session appears or last session drops.
type PresencePayload struct {
	UserIDs []string `json:"user_ids"`
}
