package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// requireServiceToken guards internal-only routes. Callers are backend
// services presenting an HS256 JWT signed with the shared internal secret;
// this credential is distinct from end-user tokens, which the webhook
// endpoints never see.
func (s *Server) requireServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			s.sendError(w, "internal service token required", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected internal caller")
			s.sendError(w, "invalid internal service token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
