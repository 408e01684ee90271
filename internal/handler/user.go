package handler

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/beamchat/internal/logger"
	"github.com/beamchat/internal/middleware"
	"github.com/beamchat/internal/model"
	"github.com/beamchat/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
}

func NewUserHandler(userRepo *repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// List handles GET /api/users: the contact picker, everyone but the caller.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 200)
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	users, err := h.userRepo.ListContacts(r.Context(), userID, limit)
	if err != nil {
		logger.Errorf("list users: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := lo.Map(users, func(u model.User, _ int) model.UserPublic { return u.ToPublic() })
	writeJSON(w, http.StatusOK, out)
}
