package errors

import (
	"errors"
	"fmt"
)

// Sentinels shared by the session core. Callers match them with Is; the text
// around them is for logs only.
var (
	// Credential errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoCredential       = errors.New("no credential available")

	// Session errors
	ErrNoSession       = errors.New("no session")
	ErrInvalidRefresh  = errors.New("invalid refresh token")
	ErrInvalidIDToken  = errors.New("invalid id token")
	ErrCorruptSession  = errors.New("corrupt session")
	ErrSignOutTimedOut = errors.New("sign out event not received")

	// Provider errors
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrProviderRejected    = errors.New("identity provider rejected request")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrClosed         = errors.New("closed")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf prefixes kind with a formatted detail, keeping kind matchable:
//
//	Wrapf(ErrProviderUnavailable, "%s returned %d", path, code)
func Wrapf(kind error, format string, args ...any) error {
	if kind == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, kind)...)
}

// Is reports whether err is, or wraps, kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

// As finds the first error in err's chain assignable to target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
