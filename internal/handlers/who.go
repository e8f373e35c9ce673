package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/rank"
)

// WhoResponse represents a profile card.
type WhoResponse struct {
	User     models.UserView `json:"user"`
	Progress models.Progress `json:"progress"`
	Online   bool            `json:"online"`
}

// Who handles profile lookup for a user id.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > 128 {
		h.Error(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user := h.profiles.Resolve(r.Context(), id)
	if user.Username == models.UnknownUsername {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	online := false
	for _, uid := range h.session.View().OnlineUserIDs {
		if uid == id {
			online = true
			break
		}
	}

	h.JSON(w, http.StatusOK, WhoResponse{
		User:     user,
		Progress: user.Progress(),
		Online:   online,
	})
}

// Ranks returns the rank table for the rank badge legend.
func (h *Handler) Ranks(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]interface{}{"ranks": rank.All()})
}
