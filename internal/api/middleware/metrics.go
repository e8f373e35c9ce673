package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Fidelis900/crown-commune/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses ids out of paths to keep label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/who/") && len(path) > len("/who/"):
		return "/who/:id"
	case strings.HasPrefix(path, "/messages/") && strings.HasSuffix(path, "/reactions"):
		return "/messages/:id/reactions"
	case strings.HasPrefix(path, "/messages/") && len(path) > len("/messages/"):
		return "/messages/:id"
	case strings.HasPrefix(path, "/channels/") && strings.HasSuffix(path, "/select"):
		return "/channels/:id/select"
	}
	return path
}
