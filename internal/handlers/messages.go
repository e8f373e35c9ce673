package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Fidelis900/crown-commune/internal/chat"
	"github.com/Fidelis900/crown-commune/internal/models"
)

// SendRequest represents the request body for posting a message.
type SendRequest struct {
	Content   string `json:"content"`
	IsDecree  bool   `json:"is_decree"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// SendResponse represents the response for a posted message.
type SendResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Notice    string `json:"notice,omitempty"`
}

// EditRequest represents the request body for editing a message.
type EditRequest struct {
	Content string `json:"content"`
}

// ReactionRequest represents the request body for toggling a reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// StatusRequest represents the request body for setting presence.
type StatusRequest struct {
	Status models.PresenceStatus `json:"status"`
}

// View returns the full session snapshot.
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.session.View())
}

// Messages returns the message window of the active channel.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	v := h.session.View()
	resp := map[string]interface{}{
		"messages": v.Messages,
		"typing":   v.Typing,
	}
	if v.ActiveChannel != nil {
		resp["channel_id"] = v.ActiveChannel.ID
	}
	h.JSON(w, http.StatusOK, resp)
}

// PostMessage posts a message or decree to the active channel.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	content := sanitizeContent(req.Content)
	if contentTooLong(content) {
		h.Error(w, http.StatusUnprocessableEntity, errContentTooLong)
		return
	}

	msg, err := h.session.Send(r.Context(), chat.Draft{
		Content:   content,
		IsDecree:  req.IsDecree,
		ReplyToID: strings.TrimSpace(req.ReplyToID),
	})
	if err != nil {
		h.CommandError(w, err)
		return
	}

	resp := SendResponse{ID: msg.ID, Timestamp: msg.CreatedAt.UnixMilli()}
	if msg.IsDecree {
		resp.Notice = chat.DecreeSentNotice
	}
	h.JSON(w, http.StatusCreated, resp)
}

// EditMessage replaces the content of one of the user's messages.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	content := sanitizeContent(req.Content)
	if contentTooLong(content) {
		h.Error(w, http.StatusUnprocessableEntity, errContentTooLong)
		return
	}

	if err := h.session.EditMessage(r.Context(), chi.URLParam(r, "id"), content); err != nil {
		h.CommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage soft-deletes one of the user's messages.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.CommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleReaction adds or removes the user's reaction on a message.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || len(emoji) > 32 {
		h.Error(w, http.StatusBadRequest, "invalid emoji")
		return
	}

	if err := h.session.ToggleReaction(r.Context(), chi.URLParam(r, "id"), emoji); err != nil {
		h.CommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus announces the user's presence status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		h.Error(w, http.StatusBadRequest, "status must be one of online, away, busy, offline")
		return
	}

	if err := h.session.SetStatus(r.Context(), req.Status); err != nil {
		h.CommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartTyping signals that the user is typing in the active channel.
func (h *Handler) StartTyping(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StartTyping(r.Context()); err != nil {
		h.CommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StopTyping clears the user's typing signal.
func (h *Handler) StopTyping(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StopTyping(r.Context()); err != nil {
		h.CommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconcileProfile refetches the user's profile from the backend.
func (h *Handler) ReconcileProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.session.ReconcileProfile(r.Context()); err != nil {
		h.CommandError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.session.View())
}
