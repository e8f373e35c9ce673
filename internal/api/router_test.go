package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/chat"
	"github.com/Fidelis900/crown-commune/internal/handlers"
	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/remote/memory"
)

const token = "bridge-token"

func newBridge(t *testing.T) (http.Handler, *memory.Backend) {
	t.Helper()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	b := memory.New()
	for i, ch := range models.DefaultChannels() {
		ch.ID = []string{"great-hall", "marketplace", "tavern", "royal-court", "noble-assembly", "royal-chambers"}[i]
		ch.CreatedAt = at
		b.Seed(remote.Channels, ch.ToRecord())
	}
	b.Seed(remote.Profiles, models.Profile{
		ID: "p-earl", UserID: "earl", Username: "Lady Earl", Rank: "Earl", XP: 20000,
		CreatedAt: at, UpdatedAt: at,
	}.ToRecord())

	profiles := chat.NewProfileCache(b, zerolog.Nop())
	session := chat.New(b, chat.Config{UserID: "earl"}, zerolog.Nop(), chat.WithProfileCache(profiles))
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(func() { session.Close(context.Background()) })

	h := handlers.NewHandler(session, profiles, nil, nil)
	return NewRouter(zerolog.Nop(), h, nil, Options{Token: token, CORSOrigins: []string{"http://localhost:5173"}}), b
}

func request(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	h, _ := newBridge(t)

	rec := request(t, h, http.MethodGet, "/", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Kingdom Chat")

	rec = request(t, h, http.MethodGet, "/ranks", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Peasant")

	rec = request(t, h, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	// Stores are not wired in this bridge, so health reports degraded but
	// the session itself passes.
	rec = request(t, h, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "pass", health.Checks["session"].Status)
}

func TestSessionRoutesRequireToken(t *testing.T) {
	h, _ := newBridge(t)

	require.Equal(t, http.StatusUnauthorized, request(t, h, http.MethodGet, "/view", "", false).Code)
	require.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/view", "", true).Code)
}

func TestDecreeThroughBridge(t *testing.T) {
	h, b := newBridge(t)

	rec := request(t, h, http.MethodPost, "/messages", `{"content":"Hear ye","is_decree":true}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), chat.DecreeSentNotice)
	require.Len(t, b.Rows(remote.Messages), 1)

	rec = request(t, h, http.MethodGet, "/view", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var view chat.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, 2, view.DecreesRemaining)
	require.Len(t, view.Messages, 1)
	require.True(t, view.Messages[0].IsPinned)
}

func TestRankGateThroughBridge(t *testing.T) {
	h, _ := newBridge(t)

	rec := request(t, h, http.MethodPost, "/channels/royal-chambers/select", "", true)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "You need a higher rank to access this channel!")

	rec = request(t, h, http.MethodPost, "/channels/royal-court/select", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
}
