package model

import (
	"sort"
	"strings"
	"time"
)

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type Chat struct {
	ID              string    `json:"id"`
	ChatType        ChatType  `json:"chat_type"`
	Name            string    `json:"name,omitempty"`
	CreatedBy       string    `json:"created_by"`
	ParticipantsKey string    `json:"-"`
	LastMessageID   *string   `json:"last_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Participant struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatWithParticipants is the enriched shape returned by the HTTP surface.
type ChatWithParticipants struct {
	Chat
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
}

// PrivateChatKey builds the canonical key for a private chat: the two
// participant ids sorted and joined. Order-independent, so at most one
// private chat can exist per unordered pair.
func PrivateChatKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
