package auth

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// Credentials is the email/password pair submitted by the sign in and sign up forms.
type Credentials struct {
	Email    string
	Password string
}

// Validate checks the credentials are well formed before they are sent to the
// provider. The returned error matches apperrors.ErrInvalidInput and unwraps to
// validation.Errors for per-field messages.
func (c Credentials) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&c.Password, validation.Required, validation.Length(1, 1024)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	return nil
}

// ValidateEmail checks a bare email address, as used by password recovery.
func ValidateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return fmt.Errorf("%w: email: %w", apperrors.ErrInvalidInput, err)
	}
	return nil
}
