package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/quantumfx/ea-license-service/internal/http/response"
	"github.com/quantumfx/ea-license-service/internal/observability"
	"github.com/quantumfx/ea-license-service/internal/security"
)

type contextKey string

const ClaimsContextKey contextKey = "ops_claims"

// OpsAuth guards the operator inspection endpoints. Tokens are minted
// out of band with the ops-token command, so only bearer auth applies.
func OpsAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				observability.RecordOpsTokenValidation(r.Context(), "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			raw := strings.TrimSpace(auth[7:])
			claims, err := jwtMgr.ParseOpsToken(raw)
			if err != nil {
				observability.RecordOpsTokenValidation(r.Context(), "invalid")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token", nil)
				return
			}
			observability.RecordOpsTokenValidation(r.Context(), "valid")
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.OpsClaims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.OpsClaims)
	return c, ok
}
