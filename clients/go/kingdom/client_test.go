package kingdom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fidelis900/crown-commune/internal/handlers"
)

func TestPostSendsTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)

		var req handlers.SendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hear ye", req.Content)
		assert.True(t, req.IsDecree)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(handlers.SendResponse{ID: "m-1", Notice: "Royal decree sent!"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "tok").Post(context.Background(), "Hear ye", true, "")
	require.NoError(t, err)
	require.Equal(t, "m-1", resp.ID)
	require.Equal(t, "Royal decree sent!", resp.Notice)
}

func TestDenialBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"You need a higher rank to access this channel!","code":"rank_too_low"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").SelectChannel(context.Background(), "royal-chambers")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Equal(t, "rank_too_low", apiErr.Code)
	require.Contains(t, err.Error(), "higher rank")
}

func TestNoContentResponses(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()
	require.NoError(t, c.Edit(ctx, "m 1", "x"))
	require.NoError(t, c.Delete(ctx, "m-2"))
	require.NoError(t, c.React(ctx, "m-3", "👑"))
	require.Equal(t, []string{"PATCH /messages/m%201", "DELETE /messages/m-2", "POST /messages/m-3/reactions"}, paths)
}

func TestDefaultURL(t *testing.T) {
	require.Equal(t, DefaultURL, NewClient("", "").BaseURL)
}
