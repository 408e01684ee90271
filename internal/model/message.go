package model

import "time"

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`

	// At least one of the payload fields is non-empty; the fanout pipeline
	// rejects frames where all three are blank.
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`

	Status    MessageStatus `json:"status"`
	ReadBy    []ReadReceipt `json:"read_by,omitempty"`
	CreatedAt time.Time     `json:"created_at"`

	Sender *UserPublic `json:"sender,omitempty"`
}

type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// HasPayload reports whether the message carries at least one non-empty
// payload field.
func (m *Message) HasPayload() bool {
	return m.Text != "" || m.ImageURL != "" || m.AudioURL != ""
}
