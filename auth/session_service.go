package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/credentials"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSignOutWait = 5 * time.Second
	checkAuthKey       = "check-auth"
)

// Deps holds all dependencies of the SessionService
type Deps struct {
	Provider    provider.Client        // External identity provider
	Persistence *sessions.Persistence  // On-device session cache
	Credentials *credentials.Propagator // Token/user getters read by request senders
}

// SessionService owns the authoritative session and phase for the process
// lifetime. Every change goes through OnAuthEvent, whoever triggered it.
type SessionService struct {
	deps        Deps
	logger      zerolog.Logger
	signOutWait time.Duration

	// applyMu serializes transitions and the notifications they produce.
	applyMu sync.Mutex

	mu          sync.RWMutex
	session     *sessions.Session
	phase       sessions.Phase
	inFlight    int
	transitions uint64

	watchMu    sync.RWMutex
	watchers   map[uuid.UUID]Watcher
	watchOrder []uuid.UUID

	subMu  sync.Mutex
	sub    provider.Subscription
	closed bool

	checks singleflight.Group
}

// SessionServiceOption defines a function type to modify the SessionService instance.
type SessionServiceOption func(*SessionService)

// WithLogger sets the logger (defaults to the global zerolog logger)
func WithLogger(logger zerolog.Logger) SessionServiceOption {
	return func(s *SessionService) {
		s.logger = logger
	}
}

// WithSignOutWait sets how long Logout waits for the provider's SIGNED_OUT event
// before clearing the session itself.
func WithSignOutWait(d time.Duration) SessionServiceOption {
	return func(s *SessionService) {
		if d > 0 {
			s.signOutWait = d
		}
	}
}

// NewSessionService creates the service in PhaseInitializing.
func NewSessionService(deps Deps, options ...SessionServiceOption) (*SessionService, error) {
	if deps.Provider == nil {
		return nil, errors.New("[NewSessionService] Provider is required")
	}
	if deps.Persistence == nil {
		return nil, errors.New("[NewSessionService] Persistence is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("[NewSessionService] Credentials is required")
	}

	s := &SessionService{
		deps:        deps,
		logger:      log.Logger,
		signOutWait: defaultSignOutWait,
		phase:       sessions.PhaseInitializing,
		watchers:    make(map[uuid.UUID]Watcher),
	}
	for _, opt := range options {
		opt(s)
	}
	deps.Credentials.Reset()
	return s, nil
}

// Start subscribes to the provider's event stream. The subscription lives until
// Close.
func (s *SessionService) Start(ctx context.Context) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		return apperrors.ErrClosed
	}
	if s.sub != nil {
		return apperrors.ErrAlreadyStarted
	}
	s.sub = s.deps.Provider.OnAuthStateChange(s.handleProviderEvent)
	s.logger.Debug().Msg("Subscribed to identity provider events")
	return nil
}

// Close releases the provider subscription. It is safe to call more than once.
func (s *SessionService) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
		s.logger.Debug().Msg("Unsubscribed from identity provider events")
	}
	return nil
}

// CheckAuth resolves the session at boot (or on demand). The provider is the
// source of truth; the persisted copy is only used to restore a session the
// provider does not hold yet. On any failure the service falls back to
// PhaseUnauthenticated and the error is returned. Overlapping calls share one
// check.
func (s *SessionService) CheckAuth(ctx context.Context) error {
	_, err, shared := s.checks.Do(checkAuthKey, func() (any, error) {
		return nil, s.checkAuth(ctx)
	})
	if shared {
		s.logger.Debug().Msg("CheckAuth joined an in-flight check")
	}
	return err
}

func (s *SessionService) checkAuth(ctx context.Context) error {
	s.beginLoading()
	defer s.endLoading()

	var stored, current *sessions.Session
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stored = s.deps.Persistence.Load(gctx)
		return nil
	})
	g.Go(func() error {
		session, err := s.deps.Provider.GetSession(gctx)
		if err != nil {
			return errors.Wrap(err, "provider.GetSession")
		}
		current = session
		return nil
	})
	if err := g.Wait(); err != nil {
		return s.failClosed(ctx, errors.Wrap(err, "[SessionService.CheckAuth]"))
	}

	if current.Valid() {
		s.OnAuthEvent(ctx, sessions.InitialSession(current))
		return nil
	}

	restorer, canRestore := s.deps.Provider.(provider.Restorer)
	if !stored.Valid() || !canRestore {
		s.OnAuthEvent(ctx, sessions.InitialSession(nil))
		return nil
	}

	restored, err := restorer.RestoreSession(ctx, stored)
	if err == nil && !restored.Valid() {
		err = apperrors.ErrNoSession
	}
	if err != nil {
		return s.failClosed(ctx, errors.Wrap(err, "[SessionService.CheckAuth] provider.RestoreSession"))
	}
	s.OnAuthEvent(ctx, sessions.InitialSession(restored))
	return nil
}

// OnAuthEvent is the single transition function. It never fails: storage errors
// are logged and the phase always ends terminal.
func (s *SessionService) OnAuthEvent(ctx context.Context, event sessions.AuthEvent) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.applyLocked(ctx, event)
}

// applyReported applies the session a provider call returned, unless the
// provider's own event stream has moved the service since the call started.
// Providers emit before returning, so any such transition is at least as new as
// session and must not be overwritten.
func (s *SessionService) applyReported(ctx context.Context, since uint64, session *sessions.Session) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.RLock()
	moved := s.transitions != since
	s.mu.RUnlock()
	if moved {
		s.logger.Debug().Str("user_id", session.UserID).Msg("Provider already reported a newer state")
		return
	}
	s.applyLocked(ctx, sessions.SignedIn(session))
}

// applyLocked must be called with applyMu held.
func (s *SessionService) applyLocked(ctx context.Context, event sessions.AuthEvent) {
	candidate := event.CandidateSession().Clone()
	next := candidate.Identity()

	s.mu.Lock()
	held := s.session.Identity()
	if next == held && s.phase != sessions.PhaseInitializing {
		s.mu.Unlock()
		s.logger.Debug().Str("event", string(event.Kind)).Msg("Duplicate auth event ignored")
		return
	}
	from := s.phase
	s.session = candidate
	s.phase = sessions.PhaseFor(candidate)
	s.transitions++
	st := s.stateLocked()
	s.mu.Unlock()

	s.deps.Credentials.Bind(next.UserID, next.AccessToken)

	// Storage side effects must not be skipped because the triggering call was cancelled.
	storeCtx := context.WithoutCancel(ctx)
	if candidate != nil {
		if err := s.deps.Persistence.Save(storeCtx, candidate); err != nil {
			s.logger.Err(err).Str("event", string(event.Kind)).Msg("Failed to persist session")
		}
	} else {
		if err := s.deps.Persistence.Clear(storeCtx); err != nil {
			s.logger.Err(err).Str("event", string(event.Kind)).Msg("Failed to clear persisted session")
		}
	}

	s.logger.Info().
		Str("event", string(event.Kind)).
		Stringer("from", from).
		Stringer("to", st.Phase).
		Str("user_id", next.UserID).
		Msg("Session transition")
	s.notify(st)
}

// Login verifies credentials with the provider and applies the resulting session
// immediately. Any failure leaves the service signed out and is returned for
// display.
func (s *SessionService) Login(ctx context.Context, email, password string) error {
	if err := (Credentials{Email: email, Password: password}).Validate(); err != nil {
		return err
	}

	s.beginLoading()
	defer s.endLoading()

	since := s.Transitions()
	session, err := s.deps.Provider.SignIn(ctx, email, password)
	if err == nil && !session.Valid() {
		err = apperrors.ErrNoSession
	}
	if err != nil {
		return s.failClosed(ctx, errors.Wrap(err, "[SessionService.Login] provider.SignIn"))
	}

	s.applyReported(ctx, since, session)
	return nil
}

// SignUp registers a user. It returns true when the provider signed the user in
// straight away, false when confirmation is pending.
func (s *SessionService) SignUp(ctx context.Context, email, password string, metadata map[string]any) (bool, error) {
	if err := (Credentials{Email: email, Password: password}).Validate(); err != nil {
		return false, err
	}

	s.beginLoading()
	defer s.endLoading()

	since := s.Transitions()
	session, err := s.deps.Provider.SignUp(ctx, email, password, metadata)
	if err != nil {
		return false, errors.Wrap(err, "[SessionService.SignUp] provider.SignUp")
	}
	if !session.Valid() {
		return false, nil
	}
	s.applyReported(ctx, since, session)
	return true, nil
}

// ResetPassword asks the provider to start password recovery for email.
func (s *SessionService) ResetPassword(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := s.deps.Provider.ResetPasswordForEmail(ctx, email); err != nil {
		return errors.Wrap(err, "[SessionService.ResetPassword] provider.ResetPasswordForEmail")
	}
	return nil
}

// Logout asks the provider to sign out. The session is cleared by the provider's
// SIGNED_OUT event; if that does not arrive in time, or the provider call fails,
// the same event is applied locally so the app never stays signed in.
func (s *SessionService) Logout(ctx context.Context) error {
	if err := s.deps.Provider.SignOut(ctx); err != nil {
		s.OnAuthEvent(ctx, sessions.SignedOut())
		return errors.Wrap(err, "[SessionService.Logout] provider.SignOut")
	}

	if s.waitForPhase(ctx, sessions.PhaseUnauthenticated, s.signOutWait) {
		return nil
	}
	s.logger.Warn().Err(apperrors.ErrSignOutTimedOut).Msg("Clearing session locally")
	s.OnAuthEvent(ctx, sessions.SignedOut())
	return nil
}

// Transitions returns the number of state transitions applied so far.
func (s *SessionService) Transitions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transitions
}

func (s *SessionService) handleProviderEvent(ctx context.Context, event sessions.AuthEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event", string(event.Kind)).Msg("Auth event handler panicked")
		}
	}()
	s.OnAuthEvent(ctx, event)
}

func (s *SessionService) failClosed(ctx context.Context, cause error) error {
	s.logger.Warn().Err(cause).Msg("Falling back to signed out")
	s.OnAuthEvent(ctx, sessions.SignedOut())
	return cause
}

func (s *SessionService) waitForPhase(ctx context.Context, want sessions.Phase, timeout time.Duration) bool {
	reached := make(chan struct{}, 1)
	unwatch := s.Watch(func(st State) {
		if st.Phase == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unwatch()

	if s.State().Phase == want {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-reached:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *SessionService) beginLoading() {
	s.adjustInFlight(1)
}

func (s *SessionService) endLoading() {
	s.adjustInFlight(-1)
}

func (s *SessionService) adjustInFlight(delta int) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	before := s.stateLocked().IsLoading
	s.inFlight += delta
	st := s.stateLocked()
	s.mu.Unlock()

	if st.IsLoading != before {
		s.notify(st)
	}
}
