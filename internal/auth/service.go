package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shetmall-auth/internal/token"
)

const defaultDependencyTimeout = 5 * time.Second

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

type TokenIssuer interface {
	IssueAccess(id token.Identity) (string, time.Time, error)
	IssueRefresh(userID string) (string, time.Time, error)
	Verify(raw string, kind token.Kind) (*token.Claims, error)
}

// Service drives the session lifecycle: register, login, refresh and logout.
// It keeps no per-user state of its own; the stored refresh token on the
// user record is the only session state.
type Service struct {
	store    UserStore
	hasher   PasswordHasher
	tokens   TokenIssuer
	uploader AssetUploader
	timeout  time.Duration
}

func NewService(store UserStore, hasher PasswordHasher, tokens TokenIssuer, uploader AssetUploader) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		uploader: uploader,
		timeout:  defaultDependencyTimeout,
	}
}

func (s *Service) WithDependencyTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.timeout = timeout
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (PublicUser, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return PublicUser{}, err
	}
	user, err := in.user()
	if err != nil {
		return PublicUser{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	_, err = s.store.FindByEmailOrPhone(callCtx, user.Email, user.PhoneNumber)
	cancel()
	switch {
	case err == nil:
		return PublicUser{}, ErrConflict
	case !errors.Is(err, ErrNotFound):
		return PublicUser{}, storeError(err, "find user by email or phone")
	}

	avatarURL, err := s.uploadAvatar(ctx, in.Avatar)
	if err != nil {
		return PublicUser{}, err
	}
	user.Avatar = avatarURL

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return PublicUser{}, wrapInternal(err, "hash password")
	}
	user.PasswordHash = digest

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	created, err := s.store.Create(callCtx, user)
	cancel()
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return PublicUser{}, ErrConflict
		}
		return PublicUser{}, storeError(err, "create user")
	}

	return created.Public(), nil
}

func (s *Service) uploadAvatar(ctx context.Context, source string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url, err := s.uploader.UploadImage(callCtx, source)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: upload avatar", ErrDependencyUnavailable)
		}
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("%w: uploader returned no url", ErrUpload)
	}
	return url, nil
}

// Login returns ErrNotFound for an unknown identifier and ErrUnauthorized for a
// wrong password. A failed login never touches the store.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return Session{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	user, err := s.store.FindByEmailOrPhone(callCtx, in.Email, in.PhoneNumber)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, storeError(err, "find user by email or phone")
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return Session{}, fmt.Errorf("%w: invalid user credentials", ErrUnauthorized)
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return Session{}, err
	}

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	err = s.store.SetRefreshToken(callCtx, user.ID, &tokens.RefreshToken, tokens.RefreshExpiresAt)
	cancel()
	if err != nil {
		return Session{}, storeError(err, "store refresh token")
	}

	return Session{User: user.Public(), Tokens: tokens}, nil
}

// Refresh exchanges the stored refresh token for a new pair. The presented
// token stops working as soon as the swap succeeds.
func (s *Service) Refresh(ctx context.Context, presented string) (Tokens, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Tokens{}, fmt.Errorf("%w: refresh token missing", ErrUnauthorized)
	}

	claims, err := s.tokens.Verify(presented, token.Refresh)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	user, err := s.store.FindByID(callCtx, claims.UserID())
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tokens{}, ErrNotFound
		}
		return Tokens{}, storeError(err, "find user by id")
	}

	if user.RefreshToken == nil || *user.RefreshToken != presented {
		return Tokens{}, ErrTokenReuse
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return Tokens{}, err
	}

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	swapped, err := s.store.SwapRefreshToken(callCtx, user.ID, presented, tokens.RefreshToken, tokens.RefreshExpiresAt)
	cancel()
	if err != nil {
		return Tokens{}, storeError(err, "rotate refresh token")
	}
	if !swapped {
		// a concurrent login or refresh rotated first
		return Tokens{}, ErrTokenReuse
	}

	return tokens, nil
}

// Logout clears the stored refresh token. Repeating it is harmless.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: missing user", ErrUnauthorized)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.SetRefreshToken(callCtx, userID, nil, time.Time{}); err != nil {
		return storeError(err, "clear refresh token")
	}
	return nil
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (PublicUser, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.store.FindByID(callCtx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PublicUser{}, ErrNotFound
		}
		return PublicUser{}, storeError(err, "find user by id")
	}
	return user.Public(), nil
}

// VerifyAccess validates an access token without consulting the store.
func (s *Service) VerifyAccess(raw string) (*token.Claims, error) {
	claims, err := s.tokens.Verify(raw, token.Access)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

func (s *Service) issueTokens(user User) (Tokens, error) {
	access, accessExp, err := s.tokens.IssueAccess(token.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Phone:  user.PhoneNumber,
	})
	if err != nil {
		return Tokens{}, wrapInternal(err, "issue access token")
	}

	refresh, refreshExp, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return Tokens{}, wrapInternal(err, "issue refresh token")
	}

	return Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func storeError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrDependencyUnavailable) {
		return fmt.Errorf("%w: %s", ErrDependencyUnavailable, op)
	}
	return wrapInternal(err, op)
}
