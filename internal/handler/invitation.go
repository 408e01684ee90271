package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/middleware"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
)

type InvitationHandler struct {
	invRepo *repository.InvitationRepository
}

func NewInvitationHandler(invRepo *repository.InvitationRepository) *InvitationHandler {
	return &InvitationHandler{invRepo: invRepo}
}

// List handles GET /api/invitations: the caller's pending invitations,
// enriched with chat and inviter context.
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	views, err := h.invRepo.ListPendingForUser(r.Context(), userID)
	if err != nil {
		logger.Errorf("list invitations user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Accept handles PUT /api/invitations/{id}/accept.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.invRepo.Accept)
}

// Reject handles PUT /api/invitations/{id}/reject.
func (h *InvitationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.invRepo.Reject)
}

func (h *InvitationHandler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, invitationID, userID string) (*model.Invitation, error)) {
	userID := middleware.GetUserID(r.Context())
	invitationID := chi.URLParam(r, "id")

	inv, err := fn(r.Context(), invitationID, userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, model.ErrInvitationNotOwned):
			// Ownership mismatches are masked: a non-owner learns nothing.
			writeError(w, http.StatusNotFound, "invitation not found")
		case errors.Is(err, model.ErrInvitationDecided):
			writeError(w, http.StatusConflict, "invitation already handled")
		default:
			logger.Errorf("decide invitation %s user=%s: %v", invitationID, userID, err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
