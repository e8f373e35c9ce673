package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Fidelis900/crown-commune/internal/chat"
	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/store"
)

// maxContentLength caps message bodies accepted from the bridge.
const maxContentLength = 2000

// Session is the chat session the bridge drives.
type Session interface {
	View() chat.View
	SelectChannel(ctx context.Context, channelID string) error
	Send(ctx context.Context, d chat.Draft) (models.Message, error)
	EditMessage(ctx context.Context, messageID, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	ToggleReaction(ctx context.Context, messageID, emoji string) error
	SetStatus(ctx context.Context, status models.PresenceStatus) error
	StartTyping(ctx context.Context) error
	StopTyping(ctx context.Context) error
	ReconcileProfile(ctx context.Context) error
}

// Resolver looks up other users for profile cards.
type Resolver interface {
	Resolve(ctx context.Context, userID string) models.UserView
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	session  Session
	profiles Resolver
	data     store.DataStore
	redis    *store.RedisStore
}

// NewHandler creates a new Handler. The stores are only used for health and
// stats and may be nil.
func NewHandler(session Session, profiles Resolver, data store.DataStore, redis *store.RedisStore) *Handler {
	return &Handler{session: session, profiles: profiles, data: data, redis: redis}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// CommandError maps a session command failure to a response. Denials are the
// user's fault and carry their code; anything else is a backend failure.
func (h *Handler) CommandError(w http.ResponseWriter, err error) {
	var denial *chat.Denial
	if errors.As(err, &denial) {
		status := http.StatusUnprocessableEntity
		switch denial {
		case chat.ErrRankTooLow, chat.ErrNotAuthor:
			status = http.StatusForbidden
		case chat.ErrUnknownChannel, chat.ErrUnknownMessage:
			status = http.StatusNotFound
		case chat.ErrNotAuthenticated:
			status = http.StatusUnauthorized
		}
		h.JSON(w, status, map[string]string{"error": denial.Message, "code": denial.Code})
		return
	}
	var dcErr *chat.DecreeCounterError
	if errors.As(err, &dcErr) {
		h.JSON(w, http.StatusAccepted, map[string]string{
			"error":      "decree posted but the counter could not be updated",
			"message_id": dcErr.MessageID,
		})
		return
	}
	h.Error(w, http.StatusBadGateway, "backend unavailable")
}

// decode reads a JSON body into v.
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// errContentTooLong is the rejection for bodies over maxContentLength runes.
var errContentTooLong = fmt.Sprintf("content too long (max %d characters)", maxContentLength)

// sanitizeContent removes control characters other than newlines and tabs.
func sanitizeContent(content string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, content)
}

// contentTooLong reports whether content exceeds maxContentLength runes.
func contentTooLong(content string) bool {
	return utf8.RuneCountInString(content) > maxContentLength
}
