package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrConflict              = errors.New("user is already registered")
	ErrNotFound              = errors.New("user not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrTokenReuse            = fmt.Errorf("%w: refresh token is expired or used", ErrUnauthorized)
	ErrUpload                = errors.New("avatar upload failed")
	ErrDelivery              = errors.New("email delivery failed")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInternal              = errors.New("internal error")
)

// ValidationError lists every input field that was missing, blank or malformed.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	return e.Reason + ": " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func wrapInternal(err error, op string) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

// Describe maps err to the status and public message sent to clients.
// Messages never carry collaborator details.
func Describe(err error) (int, string) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, ErrConflict.Error()
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ErrNotFound.Error()
	case errors.Is(err, ErrTokenReuse):
		return http.StatusUnauthorized, "refresh token is expired or used"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized request"
	case errors.Is(err, ErrUpload):
		return http.StatusBadGateway, ErrUpload.Error()
	case errors.Is(err, ErrDelivery):
		return http.StatusBadGateway, ErrDelivery.Error()
	case errors.Is(err, ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
