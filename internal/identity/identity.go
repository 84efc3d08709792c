// Package identity resolves bearer tokens to user identities for the mock API.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/questline/internal/domain"
)

type contextKey int

const (
	userIDKey contextKey = iota
	tokenKey
)

// TokenResolver maps an access token to the user it was minted for.
type TokenResolver interface {
	ResolveAccess(token string) (domain.ID, bool)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) domain.ID {
	if v, ok := ctx.Value(userIDKey).(domain.ID); ok {
		return v
	}
	return 0
}

// TokenFromContext extracts the accepted access token from the request context.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware rejects requests without a valid access token with 401 and
// injects the resolved user ID otherwise.
func Middleware(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			userID, ok := resolver.ResolveAccess(token)
			if !ok {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// IPFromRequest returns the remote IP without the port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
