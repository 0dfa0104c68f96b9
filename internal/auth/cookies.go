package auth

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type CookieOptions struct {
	Secure bool
}

func (o CookieOptions) setSession(w http.ResponseWriter, tokens Tokens, now time.Time) {
	http.SetCookie(w, o.cookie(AccessTokenCookie, tokens.AccessToken, maxAge(tokens.AccessExpiresAt, now)))
	http.SetCookie(w, o.cookie(RefreshTokenCookie, tokens.RefreshToken, maxAge(tokens.RefreshExpiresAt, now)))
}

func (o CookieOptions) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, o.cookie(AccessTokenCookie, "", -1))
	http.SetCookie(w, o.cookie(RefreshTokenCookie, "", -1))
}

func (o CookieOptions) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func maxAge(expiresAt, now time.Time) int {
	seconds := int(expiresAt.Sub(now).Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
