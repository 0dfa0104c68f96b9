package auth

import (
	"context"
	"net/http"
	"strings"

	"shetmall-auth/internal/token"
)

type contextKey struct{}

type AccessVerifier interface {
	VerifyAccess(raw string) (*token.Claims, error)
}

// Middleware admits requests carrying a valid access token, taken from the
// accessToken cookie or an Authorization bearer header.
func Middleware(verifier AccessVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := accessTokenFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized request")
			return
		}

		claims, err := verifier.VerifyAccess(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*token.Claims)
	return claims, ok && claims != nil
}

func accessTokenFromRequest(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value, true
		}
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	value := strings.TrimSpace(parts[1])
	return value, value != ""
}
