package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequireToken(t *testing.T) {
	h := RequireToken("s3cret")(ok)

	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireTokenOpenWhenUnset(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireToken("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zerolog.Nop())
	rl.limits["POST /messages"] = RateLimit{Requests: 2, Window: time.Minute}
	h := rl.Middleware(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// Reads are not limited.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	rec := httptest.NewRecorder()
	NewRateLimiter(client, zerolog.Nop()).Middleware(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop())
	pattern, _, found := rl.findLimit(httptest.NewRequest(http.MethodPatch, "/messages/m-1", nil))
	require.True(t, found)
	require.Equal(t, "PATCH /messages/", pattern)
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(ok)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("hi"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/who/x?q=%3Cscript%3E", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/who/x?q=javascript:alert(1)", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaxBodySize(t *testing.T) {
	rec := httptest.NewRecorder()
	MaxBodySize(4)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("too long")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/view", nil))
	require.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/who/u-1":                "/who/:id",
		"/messages/m-1":           "/messages/:id",
		"/messages/m-1/reactions": "/messages/:id/reactions",
		"/channels/hall/select":   "/channels/:id/select",
		"/channels":               "/channels",
		"/messages":               "/messages",
	}
	for in, want := range tests {
		require.Equal(t, want, normalizePath(in), in)
	}
}
