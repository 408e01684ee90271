package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/beamchat/internal/auth"
	"github.com/beamchat/internal/blob"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
	"github.com/beamchat/internal/storage/memory"
	"github.com/beamchat/internal/ws"
)

const testSecret = "handshake-test-secret"

func signToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

type stubUsers struct {
	users map[string]*model.User
}

func (s *stubUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type stubChats struct{}

func (stubChats) GetByID(context.Context, string) (*model.Chat, error) {
	return nil, repository.ErrNotFound
}
func (stubChats) IsMember(context.Context, string, string) (bool, error)      { return false, nil }
func (stubChats) ChatIDsForUser(context.Context, string) ([]string, error)    { return nil, nil }
func (stubChats) GetParticipants(context.Context, string) ([]model.Participant, error) {
	return nil, nil
}
func (stubChats) SetLastMessage(context.Context, string, string) error { return nil }

type stubMessages struct{}

func (stubMessages) Create(context.Context, *model.Message) error { return nil }

type stubPresence struct{}

func (stubPresence) SetOnline(context.Context, string, bool) error { return nil }

type stubUploader struct{}

func (stubUploader) Upload(context.Context, []byte, string, blob.Profile) (string, error) {
	return "", nil
}

func newGatekeeper(t *testing.T) (*httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := ws.NewHub(stubChats{}, stubMessages{}, stubPresence{}, stubUploader{}, nil, 100, ws.Tuning{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	users := &stubUsers{users: map[string]*model.User{
		"u1": {ID: "u1", Email: "u1@example.com", DisplayName: "User One"},
	}}
	h := NewWSHandler(hub, auth.NewVerifier(testSecret), users, memory.New(), "*")
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	return srv, cancel
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dialRefusal(t *testing.T, srv *httptest.Server, query string) (int, string) {
	t.Helper()
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	require.Error(t, err, "the handshake must be refused before the upgrade")
	require.NotNil(t, resp)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var ref struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(body, &ref))
	return resp.StatusCode, ref.Reason
}

func TestServeWS_MissingToken(t *testing.T) {
	srv, cancel := newGatekeeper(t)
	defer srv.Close()
	defer cancel()

	status, reason := dialRefusal(t, srv, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "missing_token", reason)
}

func TestServeWS_InvalidToken(t *testing.T) {
	srv, cancel := newGatekeeper(t)
	defer srv.Close()
	defer cancel()

	status, reason := dialRefusal(t, srv, "token=not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_token", reason)
}

func TestServeWS_ExpiredToken(t *testing.T) {
	srv, cancel := newGatekeeper(t)
	defer srv.Close()
	defer cancel()

	tok := signToken(t, testSecret, "u1", -time.Hour)
	status, reason := dialRefusal(t, srv, "token="+tok)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_token", reason)
}

func TestServeWS_UserNotFound(t *testing.T) {
	srv, cancel := newGatekeeper(t)
	defer srv.Close()
	defer cancel()

	tok := signToken(t, testSecret, "ghost", time.Hour)
	status, reason := dialRefusal(t, srv, "token="+tok)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "user_not_found", reason)
}

func TestServeWS_SuccessDeliversPresence(t *testing.T) {
	srv, cancel := newGatekeeper(t)
	defer srv.Close()
	defer cancel()

	tok := signToken(t, testSecret, "u1", time.Hour)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token="+tok), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame struct {
		Type    string `json:"type"`
		Payload struct {
			UserIDs []string `json:"user_ids"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "presence-changed", frame.Type)
	require.Contains(t, frame.Payload.UserIDs, "u1")
}

type denyThrottle struct{}

func (denyThrottle) AllowConnect(context.Context, string) (bool, error) { return false, nil }
func (denyThrottle) Close() error                                       { return nil }

func TestServeWS_RateLimited(t *testing.T) {
	hub := ws.NewHub(stubChats{}, stubMessages{}, stubPresence{}, stubUploader{}, nil, 100, ws.Tuning{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	users := &stubUsers{users: map[string]*model.User{"u1": {ID: "u1"}}}
	h := NewWSHandler(hub, auth.NewVerifier(testSecret), users, denyThrottle{}, "*")
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	tok := signToken(t, testSecret, "u1", time.Hour)
	status, reason := dialRefusal(t, srv, "token="+tok)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "rate_limited", reason)
}

func TestServeWS_BearerHeader(t *testing.T) {
	srv, cancel := newGatekeeper(t)
	defer srv.Close()
	defer cancel()

	tok := signToken(t, testSecret, "u1", time.Hour)
	hdr := http.Header{"Authorization": {"Bearer " + tok}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), hdr)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	conn.Close()
}
