package auth

import (
	"context"
	"time"
)

// UserStore is the persistence the session state machine needs.
//
// Lookups return ErrNotFound when no record matches and Create returns
// ErrConflict when the email or phone number is taken. Errors wrapping
// ErrDependencyUnavailable mean the backend could not be reached.
type UserStore interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	// FindByEmailOrPhone matches on whichever identifiers are non-empty.
	FindByEmailOrPhone(ctx context.Context, email, phone string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	// SetRefreshToken overwrites the stored refresh token in a single update.
	// A nil token clears it. Unknown ids are not an error.
	SetRefreshToken(ctx context.Context, id string, token *string, expiresAt time.Time) error
	// SwapRefreshToken replaces current with next only if current is still the
	// stored value, reporting whether the swap happened.
	SwapRefreshToken(ctx context.Context, id, current, next string, expiresAt time.Time) (bool, error)
}

type AssetUploader interface {
	UploadImage(ctx context.Context, imageSource string) (string, error)
}
