package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth rejects requests lacking a valid "Authorization: Bearer <token>"
// header when a gateway token is configured. With no token configured, it is
// a no-op: local/dev deployments run without auth.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.GatewayToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		hdr := r.Header.Get("Authorization")
		if !strings.HasPrefix(hdr, prefix) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}

		token := strings.TrimPrefix(hdr, prefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.GatewayToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
