package sessions

import (
	"context"
	"encoding/json"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/securestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultStorageKey is the single slot the serialized session lives in.
const DefaultStorageKey = "auth.session"

// Persistence caches the current session in secure on-device storage. It is a
// cache only; the identity provider remains the source of truth.
type Persistence struct {
	repo   securestore.Repo
	key    string
	logger zerolog.Logger
}

// PersistenceOption defines a function type to modify the Persistence instance.
type PersistenceOption func(*Persistence)

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) PersistenceOption {
	return func(p *Persistence) {
		if key != "" {
			p.key = key
		}
	}
}

// WithPersistenceLogger sets the logger used for recovered storage failures.
func WithPersistenceLogger(logger zerolog.Logger) PersistenceOption {
	return func(p *Persistence) {
		p.logger = logger
	}
}

// NewPersistence creates a Persistence over repo.
func NewPersistence(repo securestore.Repo, options ...PersistenceOption) (*Persistence, error) {
	if repo == nil {
		return nil, errors.New("[NewPersistence] secure repo is required")
	}
	p := &Persistence{
		repo:   repo,
		key:    DefaultStorageKey,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Key returns the storage key in use.
func (p *Persistence) Key() string {
	return p.key
}

// Load returns the stored session or nil. It never fails: missing, unreadable and
// corrupt data all mean "no stored session". Corrupt entries are deleted so the
// next Load does not hit them again.
func (p *Persistence) Load(ctx context.Context) *Session {
	raw, err := p.repo.Get(ctx, p.key)
	switch {
	case err == nil:
	case errors.Is(err, securestore.ErrNotFound):
		return nil
	case errors.Is(err, securestore.ErrCorrupt):
		p.discard(ctx, err)
		return nil
	default:
		p.logger.Warn().Err(err).Str("key", p.key).Msg("Stored session unreadable")
		return nil
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		p.discard(ctx, apperrors.Wrapf(apperrors.ErrCorruptSession, "unmarshal: %v", err))
		return nil
	}
	if !session.Valid() {
		p.discard(ctx, apperrors.Wrapf(apperrors.ErrCorruptSession, "missing user id or access token"))
		return nil
	}
	return &session
}

// Save overwrites the stored session.
func (p *Persistence) Save(ctx context.Context, session *Session) error {
	if !session.Valid() {
		return errors.New("[Persistence.Save] refusing to store an invalid session")
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "[Persistence.Save] json.Marshal")
	}
	if err := p.repo.Set(ctx, p.key, raw); err != nil {
		return errors.Wrap(err, "[Persistence.Save] repo.Set")
	}
	return nil
}

// Clear removes the stored session. Clearing an empty slot is not an error.
func (p *Persistence) Clear(ctx context.Context) error {
	if err := p.repo.Delete(ctx, p.key); err != nil {
		return errors.Wrap(err, "[Persistence.Clear] repo.Delete")
	}
	return nil
}

func (p *Persistence) discard(ctx context.Context, cause error) {
	p.logger.Warn().Err(cause).Str("key", p.key).Msg("Discarding corrupt stored session")
	if err := p.repo.Delete(ctx, p.key); err != nil {
		p.logger.Err(err).Str("key", p.key).Msg("Failed to delete corrupt stored session")
	}
}
