package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid token. The token is taken from
// the Authorization header, then the jwt cookie, then the token query
// parameter (browsers cannot set headers on a websocket upgrade).
func Middleware(tokenSecret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}

			id, err := ValidateJWT(token, tokenSecret, issuer)
			if err != nil {
				slog.InfoContext(r.Context(), "rejected token",
					"error", err,
					"path", r.URL.Path)
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie("jwt"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
