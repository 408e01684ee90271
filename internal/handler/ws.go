package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamchat/internal/auth"
	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
	"github.com/beamchat/internal/storage"
	"github.com/beamchat/internal/ws"
)

// Handshake refusal reasons, distinguishable before the upgrade.
const (
	reasonMissingToken = "missing_token"
	reasonInvalidToken = "invalid_token"
	reasonUserNotFound = "user_not_found"
	reasonRateLimited  = "rate_limited"
)

// UserGetter resolves the token subject to a live user row.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// WSHandler is the connection gatekeeper: it authenticates the handshake,
// throttles repeated attempts and hands accepted connections to the hub.
type WSHandler struct {
	hub            *ws.Hub
	verifier       *auth.Verifier
	users          UserGetter
	throttle       storage.ConnThrottle
	allowedOrigins string
}

func NewWSHandler(hub *ws.Hub, verifier *auth.Verifier, users UserGetter, throttle storage.ConnThrottle, allowedOrigins string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		verifier:       verifier,
		users:          users,
		throttle:       throttle,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

type refusal struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// refuse answers before the upgrade so the client sees a plain HTTP status
// and a machine-readable reason instead of a dropped socket.
func refuse(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, refusal{Error: "handshake rejected", Reason: reason})
}

// token reads the credential from the Authorization header, falling back to
// the query string for browser WebSocket clients that cannot set headers.
func token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeWS runs the full handshake: throttle, verify, resolve user, upgrade,
// register. Every refusal happens before the upgrade.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	tok := token(r)
	if tok == "" {
		refuse(w, http.StatusUnauthorized, reasonMissingToken)
		return
	}

	userID, err := h.verifier.Verify(tok)
	if err != nil {
		refuse(w, http.StatusUnauthorized, reasonInvalidToken)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.throttle != nil {
		allowed, err := h.throttle.AllowConnect(ctx, userID)
		if err != nil {
			// Throttle store trouble must not take the chat down.
			logger.Errorf("ws throttle user=%s: %v", userID, err)
		} else if !allowed {
			refuse(w, http.StatusTooManyRequests, reasonRateLimited)
			return
		}
	}

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			refuse(w, http.StatusUnauthorized, reasonUserNotFound)
			return
		}
		logger.Errorf("ws resolve user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	clientCtx, clientCancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user.ToPublic())
	client.Start(clientCtx, clientCancel)
	h.hub.Register(client)
}
