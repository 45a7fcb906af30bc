// Package middleware holds the HTTP middleware of the query surface.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"neurolens/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

// UserContextKey stores the validated claims in the request context
const UserContextKey ContextKey = "user"

// TokenValidator is satisfied by *auth.Authenticator
type TokenValidator interface {
	IsEnabled() bool
	ValidateToken(token string) (*auth.Claims, error)
}

// RequireToken rejects requests without a valid Bearer token. It passes
// everything through when authentication is disabled.
func RequireToken(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					unauthorized(w, "token has expired")
				} else {
					unauthorized(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="neurolens"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// UserFromContext returns the claims stored by RequireToken, or nil
func UserFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(UserContextKey).(*auth.Claims)
	return claims
}
