package fakeprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
)

var (
	_ provider.Client   = (*FakeProvider)(nil)
	_ provider.Restorer = (*FakeProvider)(nil)
)

const tokenLifetime = time.Hour

type fakeUser struct {
	id       string
	password string
	metadata map[string]any
}

// FakeProvider is a scripted in-memory identity provider. Events are delivered
// synchronously from the calling goroutine.
type FakeProvider struct {
	mu       sync.Mutex
	users    map[string]fakeUser
	current  *sessions.Session
	tokenSeq int
	now      func() time.Time

	dispatcher *provider.Dispatcher

	signInResult   *sessions.Session
	signInErr      error
	signUpErr      error
	signOutErr     error
	resetErr       error
	getSessionErr  error
	restoreErr     error
	silentSignOut  bool
	silentSignIn   bool
	confirmSignUps bool

	signInCalls     int
	getSessionCalls int
	resetEmails     []string
}

// NewFakeProvider creates an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		users:      make(map[string]fakeUser),
		now:        time.Now,
		dispatcher: provider.NewDispatcher(),
	}
}

// AddUser registers credentials the fake will accept.
func (p *FakeProvider) AddUser(email, password, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[email] = fakeUser{id: userID, password: password}
}

// ScriptSignIn forces the result of every following SignIn call.
func (p *FakeProvider) ScriptSignIn(session *sessions.Session, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInResult = session
	p.signInErr = err
}

// FailGetSession makes GetSession return err. Pass nil to restore.
func (p *FakeProvider) FailGetSession(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getSessionErr = err
}

// FailRestore makes RestoreSession return err. Pass nil to restore.
func (p *FakeProvider) FailRestore(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restoreErr = err
}

// FailSignOut makes SignOut return err without emitting.
func (p *FakeProvider) FailSignOut(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutErr = err
}

// FailSignUp makes SignUp return err.
func (p *FakeProvider) FailSignUp(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signUpErr = err
}

// FailReset makes ResetPasswordForEmail return err.
func (p *FakeProvider) FailReset(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetErr = err
}

// SilenceSignOut stops SignOut from emitting SIGNED_OUT, like a provider whose
// event never arrives.
func (p *FakeProvider) SilenceSignOut(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silentSignOut = silent
}

// SilenceSignIn stops SignIn from emitting SIGNED_IN.
func (p *FakeProvider) SilenceSignIn(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silentSignIn = silent
}

// RequireConfirmation makes SignUp return no session.
func (p *FakeProvider) RequireConfirmation(required bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmSignUps = required
}

// SetSession replaces the provider-side session without emitting.
func (p *FakeProvider) SetSession(session *sessions.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = session.Clone()
}

// Emit pushes an arbitrary event to subscribers.
func (p *FakeProvider) Emit(ctx context.Context, event sessions.AuthEvent) {
	p.dispatcher.Emit(ctx, event)
}

// Refresh rotates the access token of the current session and emits
// TOKEN_REFRESHED.
func (p *FakeProvider) Refresh(ctx context.Context) (*sessions.Session, error) {
	p.mu.Lock()
	if !p.current.Valid() {
		p.mu.Unlock()
		return nil, apperrors.ErrNoSession
	}
	refreshed := p.issueLocked(p.current.UserID, p.current.Email)
	p.current = refreshed
	p.mu.Unlock()

	p.dispatcher.Emit(ctx, sessions.TokenRefreshed(refreshed))
	return refreshed.Clone(), nil
}

// Listeners returns the number of live subscriptions.
func (p *FakeProvider) Listeners() int {
	return p.dispatcher.Len()
}

// SignInCalls returns how many times SignIn was called.
func (p *FakeProvider) SignInCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signInCalls
}

// GetSessionCalls returns how many times GetSession was called.
func (p *FakeProvider) GetSessionCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getSessionCalls
}

// ResetEmails returns the addresses password recovery was requested for.
func (p *FakeProvider) ResetEmails() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resetEmails...)
}

func (p *FakeProvider) SignIn(ctx context.Context, email, password string) (*sessions.Session, error) {
	p.mu.Lock()
	p.signInCalls++
	var session *sessions.Session
	switch {
	case p.signInErr != nil:
		err := p.signInErr
		p.mu.Unlock()
		return nil, err
	case p.signInResult != nil:
		session = p.signInResult.Clone()
	default:
		user, ok := p.users[email]
		if !ok || user.password != password {
			p.mu.Unlock()
			return nil, fmt.Errorf("fake sign in for %s: %w", email, apperrors.ErrInvalidCredentials)
		}
		session = p.issueLocked(user.id, email)
	}
	p.current = session
	silent := p.silentSignIn
	p.mu.Unlock()

	if !silent {
		p.dispatcher.Emit(ctx, sessions.SignedIn(session))
	}
	return session.Clone(), nil
}

func (p *FakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*sessions.Session, error) {
	p.mu.Lock()
	if p.signUpErr != nil {
		err := p.signUpErr
		p.mu.Unlock()
		return nil, err
	}
	if _, exists := p.users[email]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("fake sign up for %s: user exists: %w", email, apperrors.ErrProviderRejected)
	}
	userID := fmt.Sprintf("user-%d", len(p.users)+1)
	p.users[email] = fakeUser{id: userID, password: password, metadata: metadata}
	if p.confirmSignUps {
		p.mu.Unlock()
		return nil, nil
	}
	session := p.issueLocked(userID, email)
	p.current = session
	p.mu.Unlock()

	p.dispatcher.Emit(ctx, sessions.SignedIn(session))
	return session.Clone(), nil
}

func (p *FakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.signOutErr != nil {
		err := p.signOutErr
		p.mu.Unlock()
		return err
	}
	p.current = nil
	silent := p.silentSignOut
	p.mu.Unlock()

	if !silent {
		p.dispatcher.Emit(ctx, sessions.SignedOut())
	}
	return nil
}

func (p *FakeProvider) ResetPasswordForEmail(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetErr != nil {
		return p.resetErr
	}
	p.resetEmails = append(p.resetEmails, email)
	return nil
}

func (p *FakeProvider) GetSession(context.Context) (*sessions.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getSessionCalls++
	if p.getSessionErr != nil {
		return nil, p.getSessionErr
	}
	return p.current.Clone(), nil
}

func (p *FakeProvider) RestoreSession(_ context.Context, stored *sessions.Session) (*sessions.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.restoreErr != nil {
		return nil, p.restoreErr
	}
	if !stored.Valid() || stored.RefreshToken == "" {
		return nil, apperrors.ErrInvalidRefresh
	}
	p.current = p.issueLocked(stored.UserID, stored.Email)
	return p.current.Clone(), nil
}

// OnAuthStateChange delivers INITIAL_SESSION to l when a session is already held.
func (p *FakeProvider) OnAuthStateChange(l provider.Listener) provider.Subscription {
	return p.dispatcher.SubscribeWithInitial(context.Background(), l, func() *sessions.Session {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.current.Clone()
	})
}

func (p *FakeProvider) issueLocked(userID, email string) *sessions.Session {
	p.tokenSeq++
	return &sessions.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  fmt.Sprintf("access-%s-%d", userID, p.tokenSeq),
		RefreshToken: fmt.Sprintf("refresh-%s-%d", userID, p.tokenSeq),
		ExpiresAt:    p.now().Add(tokenLifetime),
	}
}
