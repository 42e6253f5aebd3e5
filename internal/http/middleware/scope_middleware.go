package middleware

import (
	"net/http"

	"github.com/quantumfx/ea-license-service/internal/http/response"
)

// RequireScope rejects ops tokens that lack the named scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			if !claims.HasScope(scope) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient scope", map[string]string{"required": scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
