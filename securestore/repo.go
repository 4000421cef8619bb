package securestore

import (
	"context"
	"errors"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

var (
	// ErrNotFound is returned by Get when nothing is stored under the key.
	ErrNotFound = apperrors.ErrNotFound
	// ErrCorrupt is returned by Get when the stored bytes cannot be opened.
	ErrCorrupt = errors.New("secure item corrupt")
)

// Repo is the on-device secure key/value storage the session cache is written to.
// Implementations must be safe for concurrent use and must not touch the network.
type Repo interface {
	// Get returns the plaintext value for key, ErrNotFound if absent or ErrCorrupt
	// if the stored value can no longer be opened.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
