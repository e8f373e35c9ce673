package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Fidelis900/crown-commune/internal/models"
)

// ChannelListResponse represents the channels list response.
type ChannelListResponse struct {
	Channels []models.Channel `json:"channels"`
	ActiveID string           `json:"active_id,omitempty"`
	Total    int              `json:"total"`
}

// ListChannels returns the channels the user's rank can see.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	v := h.session.View()
	channels := v.Channels
	if channels == nil {
		channels = []models.Channel{}
	}

	resp := ChannelListResponse{Channels: channels, Total: len(channels)}
	if v.ActiveChannel != nil {
		resp.ActiveID = v.ActiveChannel.ID
	}
	h.JSON(w, http.StatusOK, resp)
}

// SelectChannel switches the active channel.
func (h *Handler) SelectChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.Error(w, http.StatusBadRequest, "channel id is required")
		return
	}
	if err := h.session.SelectChannel(r.Context(), id); err != nil {
		h.CommandError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.session.View())
}
