package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lorrc/carenet-sync/internal/auth"
	"github.com/lorrc/carenet-sync/internal/infrastructure/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ViewerClaimsKey is the key used to store viewer claims in the request context.
const ViewerClaimsKey contextKey = "viewerClaims"

// JWTMiddleware validates the bearer token and puts the viewer into the context.
// Browsers cannot set headers on a websocket handshake, so a token query
// parameter is accepted when the header is absent.
func JWTMiddleware(tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "Authorization header format must be Bearer {token}")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ViewerClaimsKey, claims)
			ctx = logging.WithViewerID(ctx, claims.ViewerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ViewerID returns the authenticated viewer, if any.
func ViewerID(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(ViewerClaimsKey).(*auth.Claims)
	if !ok || claims.ViewerID == "" {
		return "", false
	}
	return claims.ViewerID, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		token := r.URL.Query().Get("token")
		return token, token != ""
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"UNAUTHORIZED"}`))
}
