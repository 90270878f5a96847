package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/andrasnagy-data/gatekeep/internal/shared/cookie"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const tokenKey contextKey = "sessionToken"

// GetToken returns the session token presented with the request, or "" if there was none.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// WithToken stores token in ctx the way NewTokenMiddleware does.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// NewTokenMiddleware extracts the session token from the Authorization bearer header,
// falling back to the session cookie, and adds it to the request context.
// It never rejects a request: handlers decide what an absent token means.
func NewTokenMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
		})
	}
}

// TokenFromRequest reads the session token from the request headers.
func TokenFromRequest(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	token, err := cookie.GetCookie(r)
	if err != nil {
		return ""
	}
	return token
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
