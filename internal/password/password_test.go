package password

import (
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHashers(t *testing.T) map[string]Hasher {
	t.Helper()

	b, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	return map[string]Hasher{
		KindBcrypt: b,
		KindArgon2id: NewArgon2id(&argon2id.Params{
			Memory:      8 * 1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		}),
	}
}

func TestHasher_RoundTrip(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			digest, err := h.Hash("secret123")
			require.NoError(t, err)
			assert.NotEqual(t, "secret123", digest)
			assert.True(t, h.Verify("secret123", digest))
			assert.False(t, h.Verify("secret124", digest))
		})
	}
}

func TestHasher_Salted(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			first, err := h.Hash("same-password")
			require.NoError(t, err)
			second, err := h.Hash("same-password")
			require.NoError(t, err)
			assert.NotEqual(t, first, second)
		})
	}
}

func TestHasher_EmptySecret(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := h.Hash("")
			assert.ErrorIs(t, err, ErrEmptySecret)
		})
	}
}

func TestHasher_MalformedDigest(t *testing.T) {
	for name, h := range testHashers(t) {
		t.Run(name, func(t *testing.T) {
			assert.False(t, h.Verify("secret123", "not-a-digest"))
			assert.False(t, h.Verify("secret123", ""))
			assert.False(t, h.Verify("", "$2a$10$abcdefghijklmnopqrstuv"))
		})
	}
}

func TestNew(t *testing.T) {
	h, err := New("", 0)
	require.NoError(t, err)
	assert.IsType(t, &Bcrypt{}, h)

	h, err = New("ARGON2ID", 0)
	require.NoError(t, err)
	assert.IsType(t, &Argon2id{}, h)

	_, err = New("md5", 0)
	assert.Error(t, err)

	_, err = New(KindBcrypt, 99)
	assert.Error(t, err)
}
