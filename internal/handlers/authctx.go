package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/slotpoint/slotpoint/libs/auth"
	"github.com/slotpoint/slotpoint/libs/httpx"
)

type ctxKey int

const ctxKeyClaims ctxKey = iota

// WithAuth verifies a Bearer token when one is present and stores the claims
// on the request context. A malformed or expired token is rejected outright;
// requests without a token pass through so public routes keep working, and
// handlers that need a caller use claimsFrom to enforce it.
func WithAuth(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims)
	return claims, ok && claims != nil
}

// requireCaller writes a 401 and returns false when the request carries no
// verified claims.
func requireCaller(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (*auth.Claims, bool) {
	claims, ok := requireCaller(w, r)
	if !ok {
		return nil, false
	}
	for _, role := range roles {
		if claims.Role == role {
			return claims, true
		}
	}
	http.Error(w, "forbidden", http.StatusForbidden)
	return nil, false
}
