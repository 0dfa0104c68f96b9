// Package token issues and verifies the signed access and refresh tokens
// handed to clients after authentication.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrMalformed        = errors.New("token is malformed")
)

type Identity struct {
	UserID string
	Email  string
	Name   string
	Phone  string
}

type Claims struct {
	Kind  Kind   `json:"typ"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

type Config struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh tokens must use different secrets")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}, nil
}

func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *Issuer) IssueAccess(id Identity) (string, time.Time, error) {
	return i.sign(Access, &Claims{
		Email: id.Email,
		Name:  id.Name,
		Phone: id.Phone,
	}, id.UserID)
}

func (i *Issuer) IssueRefresh(userID string) (string, time.Time, error) {
	return i.sign(Refresh, &Claims{}, userID)
}

func (i *Issuer) sign(kind Kind, claims *Claims, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("token subject must not be empty")
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl(kind))

	claims.Kind = kind
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return signed, expiresAt, nil
}

// Verify checks signature, expiry and kind of raw. It never consults stored state.
func (i *Issuer) Verify(raw string, kind Kind) (*Claims, error) {
	if kind != Access && kind != Refresh {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret(kind), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}

	if claims.Kind != kind || claims.Subject == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

func (i *Issuer) secret(kind Kind) []byte {
	if kind == Refresh {
		return i.refreshSecret
	}
	return i.accessSecret
}

func (i *Issuer) ttl(kind Kind) time.Duration {
	if kind == Refresh {
		return i.refreshTTL
	}
	return i.accessTTL
}
