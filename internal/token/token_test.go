package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(Config{
		AccessSecret:  "access-secret",
		AccessTTL:     time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)
	return issuer
}

func TestIssuer_AccessRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	raw, exp, err := issuer.IssueAccess(Identity{UserID: "u1", Email: "a@x.com", Name: "Ann"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	claims, err := issuer.Verify(raw, Access)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "Ann", claims.Name)
	assert.Equal(t, Access, claims.Kind)
	assert.NotEmpty(t, claims.ID)
}

func TestIssuer_RefreshRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	raw, _, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)

	claims, err := issuer.Verify(raw, Refresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Empty(t, claims.Email)
}

func TestIssuer_TokensAreUnique(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	first, _, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)
	second, _, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestIssuer_Expired(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	issuer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	raw, _, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)

	issuer.WithClock(time.Now)
	_, err = issuer.Verify(raw, Refresh)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestIssuer_KindsUseSeparateKeys(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	refresh, _, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)
	_, err = issuer.Verify(refresh, Access)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	access, _, err := issuer.IssueAccess(Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = issuer.Verify(access, Refresh)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIssuer_WrongSecret(t *testing.T) {
	t.Parallel()

	other, err := NewIssuer(Config{
		AccessSecret:  "other-access",
		AccessTTL:     time.Minute,
		RefreshSecret: "other-refresh",
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)
	raw, _, err := other.IssueAccess(Identity{UserID: "u1"})
	require.NoError(t, err)

	_, err = newTestIssuer(t).Verify(raw, Access)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIssuer_Malformed(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	for _, raw := range []string{"", "bad", "not.a.jwt"} {
		_, err := issuer.Verify(raw, Access)
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestIssuer_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u1",
		"typ": "access",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = newTestIssuer(t).Verify(raw, Access)
	assert.Error(t, err)
}

func TestIssuer_RejectsMismatchedKindClaim(t *testing.T) {
	t.Parallel()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"typ": "refresh",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = newTestIssuer(t).Verify(raw, Access)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewIssuer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer(Config{AccessSecret: "same", RefreshSecret: "same", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewIssuer(Config{AccessSecret: "a", RefreshSecret: "", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewIssuer(Config{AccessSecret: "a", RefreshSecret: "b", AccessTTL: 0, RefreshTTL: time.Hour})
	assert.Error(t, err)
}
