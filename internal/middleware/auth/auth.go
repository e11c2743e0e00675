// Package auth guards routes with Bearer access tokens.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"folhaponto/internal/auth"
	"folhaponto/internal/core"
)

type contextKey struct{}

// Verifier checks an access token. *auth.Service satisfies it.
type Verifier interface {
	ParseAccess(raw string) (*auth.Claims, error)
}

// Required rejects requests without a valid access token and stores the
// token claims in the request context.
func Required(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "Token ausente")
				return
			}
			claims, err := v.ParseAccess(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Token inválido ou expirado")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole lets through requests whose claims carry one of roles. It must
// run after Required.
func RequireRole(roles ...core.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Token ausente")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "Acesso negado")
		})
	}
}

func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*auth.Claims)
	return c, ok && c != nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
