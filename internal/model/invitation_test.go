package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanDecide(t *testing.T) {
	inv := &Invitation{InviteeID: "invitee", Status: InvitationPending}

	require.NoError(t, inv.CanDecide("invitee"))

	err := inv.CanDecide("stranger")
	require.ErrorIs(t, err, ErrInvitationNotOwned)

	err = inv.CanDecide("inviter")
	require.ErrorIs(t, err, ErrInvitationNotOwned, "the inviter cannot decide either")
}

func TestCanDecide_AlreadyDecided(t *testing.T) {
	for _, status := range []InvitationStatus{InvitationAccepted, InvitationRejected} {
		inv := &Invitation{InviteeID: "invitee", Status: status}
		err := inv.CanDecide("invitee")
		require.ErrorIs(t, err, ErrInvitationDecided)
	}
}

func TestCanDecide_OwnershipCheckedFirst(t *testing.T) {
	// A stranger probing a decided invitation must still get the ownership
	// error, which handlers mask as not found.
	inv := &Invitation{InviteeID: "invitee", Status: InvitationAccepted}
	err := inv.CanDecide("stranger")
	require.ErrorIs(t, err, ErrInvitationNotOwned)
}
