package model

import (
	"errors"
	"time"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

var (
	// ErrInvitationNotOwned is reported when someone other than the invitee
	// acts on an invitation. Callers surface it as "not found" so that
	// non-owners cannot probe for invitation existence.
	ErrInvitationNotOwned = errors.New("invitation not owned by user")

	// ErrInvitationDecided is reported on a second accept/reject attempt.
	ErrInvitationDecided = errors.New("invitation already decided")
)

type Invitation struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chat_id"`
	InviterID string           `json:"inviter_id"`
	InviteeID string           `json:"invitee_id"`
	Status    InvitationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// InvitationView is a pending invitation enriched for listing.
type InvitationView struct {
	Invitation
	ChatName     string   `json:"chat_name"`
	ChatType     ChatType `json:"chat_type"`
	InviterName  string   `json:"inviter_name"`
	InviterEmail string   `json:"inviter_email"`
}

// CanDecide checks the transition guard: only the invitee may decide, and
// only while the invitation is still pending. The two failures are distinct
// so the handler can mask ownership mismatches as NotFound.
func (i *Invitation) CanDecide(userID string) error {
	if i.InviteeID != userID {
		return ErrInvitationNotOwned
	}
	if i.Status != InvitationPending {
		return ErrInvitationDecided
	}
	return nil
}
