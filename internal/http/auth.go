package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Ebycow/famista/pkg/protocol"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// requestToken returns the bearer token, or the ?token= query parameter for
// clients that cannot set headers (browser sources in streaming software).
func requestToken(r *http.Request) string {
	if t := extractBearerToken(r); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// tokenMatch performs a constant-time comparison of a provided token against the expected token.
// Returns true if expected is empty (no auth configured) or if tokens match.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// requireAuth rejects requests without the configured token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(requestToken(r), s.token) {
			slog.Warn("security.overlay_unauthorized", "remote", clientIP(r), "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "missing or invalid token")
			return
		}
		next(w, r)
	}
}
