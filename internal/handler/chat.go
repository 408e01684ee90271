package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/middleware"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
)

type ChatHandler struct {
	chatRepo *repository.ChatRepository
	userRepo *repository.UserRepository
	invRepo  *repository.InvitationRepository
	msgRepo  *repository.MessageRepository
}

func NewChatHandler(
	chatRepo *repository.ChatRepository,
	userRepo *repository.UserRepository,
	invRepo *repository.InvitationRepository,
	msgRepo *repository.MessageRepository,
) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, userRepo: userRepo, invRepo: invRepo, msgRepo: msgRepo}
}

type createChatRequest struct {
	ChatType       model.ChatType `json:"chat_type"`
	Name           string         `json:"name,omitempty"`
	ParticipantIDs []string       `json:"participant_ids"`
}

// Create handles POST /api/chats. A private chat takes exactly one other
// participant and is idempotent per unordered pair: creating it again
// returns the existing chat with 200. A group chat starts with the creator
// as its only member; everyone listed gets a pending invitation instead of a
// seat.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ParticipantIDs = lo.Uniq(lo.Filter(req.ParticipantIDs, func(id string, _ int) bool {
		return id != "" && id != userID
	}))

	switch req.ChatType {
	case model.ChatTypePrivate:
		h.createPrivate(w, r, userID, req)
	case model.ChatTypeGroup:
		h.createGroup(w, r, userID, req)
	default:
		writeError(w, http.StatusBadRequest, "chat_type must be private or group")
	}
}

func (h *ChatHandler) createPrivate(w http.ResponseWriter, r *http.Request, userID string, req createChatRequest) {
	if len(req.ParticipantIDs) != 1 {
		writeError(w, http.StatusBadRequest, "private chat needs exactly one other participant")
		return
	}
	otherID := req.ParticipantIDs[0]
	if _, err := h.userRepo.GetByID(r.Context(), otherID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("create private chat: resolve user %s: %v", otherID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:              uuid.New().String(),
		ChatType:        model.ChatTypePrivate,
		CreatedBy:       userID,
		ParticipantsKey: model.PrivateChatKey(userID, otherID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := h.chatRepo.CreatePrivate(r.Context(), chat, userID, otherID)
	if errors.Is(err, repository.ErrAlreadyExists) {
		existing, ferr := h.chatRepo.FindPrivateByKey(r.Context(), chat.ParticipantsKey)
		if ferr != nil {
			logger.Errorf("create private chat: find existing: %v", ferr)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeChatWithParticipants(w, r, http.StatusOK, existing)
		return
	}
	if err != nil {
		logger.Errorf("create private chat: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeChatWithParticipants(w, r, http.StatusCreated, chat)
}

func (h *ChatHandler) createGroup(w http.ResponseWriter, r *http.Request, userID string, req createChatRequest) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "group chat needs a name")
		return
	}

	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        uuid.New().String(),
		ChatType:  model.ChatTypeGroup,
		Name:      name,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.chatRepo.CreateGroup(r.Context(), chat); err != nil {
		logger.Errorf("create group chat: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Invitations are best-effort after the chat exists; a failed row is
	// logged and the invitee can be re-invited.
	for _, inviteeID := range req.ParticipantIDs {
		inv := &model.Invitation{
			ID:        uuid.New().String(),
			ChatID:    chat.ID,
			InviterID: userID,
			InviteeID: inviteeID,
			Status:    model.InvitationPending,
			CreatedAt: now,
		}
		if err := h.invRepo.Create(r.Context(), inv); err != nil {
			logger.Errorf("create group chat: invite %s: %v", inviteeID, err)
		}
	}
	h.writeChatWithParticipants(w, r, http.StatusCreated, chat)
}

func (h *ChatHandler) writeChatWithParticipants(w http.ResponseWriter, r *http.Request, status int, chat *model.Chat) {
	parts, err := h.chatRepo.GetParticipants(r.Context(), chat.ID)
	if err != nil {
		logger.Errorf("chat participants %s: %v", chat.ID, err)
		parts = nil
	}
	writeJSON(w, status, model.ChatWithParticipants{Chat: *chat, Participants: parts})
}

// List handles GET /api/chats.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := h.chatRepo.GetUserChats(r.Context(), userID)
	if err != nil {
		logger.Errorf("list chats user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]model.ChatWithParticipants, 0, len(chats))
	for i := range chats {
		parts, err := h.chatRepo.GetParticipants(r.Context(), chats[i].ID)
		if err != nil {
			logger.Errorf("list chats participants %s: %v", chats[i].ID, err)
		}
		out = append(out, model.ChatWithParticipants{Chat: chats[i], Participants: parts})
	}
	writeJSON(w, http.StatusOK, out)
}

// MarkRead handles POST /api/messages/{id}/read: a read receipt from the
// caller, idempotent on repeat.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")

	msg, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Errorf("mark read %s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	isMember, err := h.chatRepo.IsMember(r.Context(), msg.ChatID, userID)
	if err != nil {
		logger.Errorf("mark read membership %s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !isMember {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err := h.msgRepo.MarkRead(r.Context(), messageID, userID); err != nil {
		logger.Errorf("mark read %s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/chats/{id}/messages, member-gated, oldest first.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "id")

	isMember, err := h.chatRepo.IsMember(r.Context(), chatID, userID)
	if err != nil {
		logger.Errorf("chat messages membership chat=%s user=%s: %v", chatID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !isMember {
		// Non-members cannot distinguish a hidden chat from a missing one.
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := h.msgRepo.ListByChat(r.Context(), chatID, limit)
	if err != nil {
		logger.Errorf("chat messages chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
