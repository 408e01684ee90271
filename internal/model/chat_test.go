package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrivateChatKey_OrderIndependent(t *testing.T) {
	a := PrivateChatKey("user-a", "user-b")
	b := PrivateChatKey("user-b", "user-a")
	require.Equal(t, a, b)
	require.Equal(t, "user-a_user-b", a)
}

func TestPrivateChatKey_DistinctPairs(t *testing.T) {
	require.NotEqual(t,
		PrivateChatKey("u1", "u2"),
		PrivateChatKey("u1", "u3"),
	)
}
