package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shetmall-auth/internal/auth"
)

// MemoryStore is a process-local UserStore for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]auth.User
	order []string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]auth.User),
		now:  time.Now,
	}
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return clone(user), nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return m.FindByEmailOrPhone(ctx, email, "")
}

func (m *MemoryStore) FindByEmailOrPhone(_ context.Context, email, phone string) (auth.User, error) {
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)
	if email == "" && phone == "" {
		return auth.User{}, auth.ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var byPhone *auth.User
	for _, id := range m.order {
		user := m.byID[id]
		if email != "" && user.Email == email {
			return clone(user), nil
		}
		if byPhone == nil && phone != "" && user.PhoneNumber == phone {
			u := user
			byPhone = &u
		}
	}
	if byPhone != nil {
		return clone(*byPhone), nil
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *MemoryStore) Create(_ context.Context, user auth.User) (auth.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return auth.User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.Email == user.Email || existing.PhoneNumber == user.PhoneNumber {
			return auth.User{}, auth.ErrConflict
		}
	}

	now := m.now().UTC()
	user.ID = id.String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.RefreshToken = nil
	user.RefreshTokenExpiresAt = nil

	m.byID[user.ID] = user
	m.order = append(m.order, user.ID)
	return clone(user), nil
}

func (m *MemoryStore) SetRefreshToken(_ context.Context, id string, token *string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return nil
	}
	m.setToken(&user, token, expiresAt)
	m.byID[id] = user
	return nil
}

func (m *MemoryStore) SwapRefreshToken(_ context.Context, id, current, next string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok || user.RefreshToken == nil || *user.RefreshToken != current {
		return false, nil
	}
	m.setToken(&user, &next, expiresAt)
	m.byID[id] = user
	return true, nil
}

func (m *MemoryStore) ClearExpiredRefreshTokens(_ context.Context, now time.Time, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared int64
	for _, id := range m.order {
		if batchSize > 0 && cleared >= int64(batchSize) {
			break
		}
		user := m.byID[id]
		if user.RefreshTokenExpiresAt == nil || !user.RefreshTokenExpiresAt.Before(now) {
			continue
		}
		m.setToken(&user, nil, time.Time{})
		m.byID[id] = user
		cleared++
	}
	return cleared, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *MemoryStore) setToken(user *auth.User, token *string, expiresAt time.Time) {
	user.UpdatedAt = m.now().UTC()
	if token == nil {
		user.RefreshToken = nil
		user.RefreshTokenExpiresAt = nil
		return
	}
	value := *token
	exp := expiresAt.UTC()
	user.RefreshToken = &value
	user.RefreshTokenExpiresAt = &exp
}

func clone(user auth.User) auth.User {
	if user.RefreshToken != nil {
		value := *user.RefreshToken
		user.RefreshToken = &value
	}
	if user.RefreshTokenExpiresAt != nil {
		value := *user.RefreshTokenExpiresAt
		user.RefreshTokenExpiresAt = &value
	}
	return user
}
