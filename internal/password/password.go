package password

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

const (
	KindBcrypt   = "bcrypt"
	KindArgon2id = "argon2id"

	DefaultBcryptCost = 10
)

var ErrEmptySecret = errors.New("password must not be empty")

// Hasher turns plaintext secrets into salted digests and checks candidates against them.
// Verify never fails loudly: a mismatch or a malformed digest both yield false.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// New returns the hasher named by kind. An empty kind selects bcrypt.
func New(kind string, bcryptCost int) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindBcrypt:
		return NewBcrypt(bcryptCost)
	case KindArgon2id:
		return NewArgon2id(nil), nil
	default:
		return nil, fmt.Errorf("unsupported password hasher %q", kind)
	}
}

type Bcrypt struct {
	cost int
}

func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptySecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (b *Bcrypt) Verify(plain, digest string) bool {
	if plain == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

type Argon2id struct {
	params *argon2id.Params
}

// NewArgon2id uses argon2id.DefaultParams when params is nil.
func NewArgon2id(params *argon2id.Params) *Argon2id {
	if params == nil {
		params = argon2id.DefaultParams
	}
	return &Argon2id{params: params}
}

func (a *Argon2id) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptySecret
	}
	hash, err := argon2id.CreateHash(plain, a.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (a *Argon2id) Verify(plain, digest string) bool {
	if plain == "" || digest == "" {
		return false
	}
	ok, err := argon2id.ComparePasswordAndHash(plain, digest)
	if err != nil {
		return false
	}
	return ok
}
