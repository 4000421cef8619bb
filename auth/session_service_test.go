package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/credentials"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	fakeprovider "github.com/jrsteele09/go-auth-session/provider/providerfake"
	fakesecurerepo "github.com/jrsteele09/go-auth-session/securestore/repofake"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testUserID       = "user-1"
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "password123"
)

// testFixture holds all test dependencies
type testFixture struct {
	provider    *fakeprovider.FakeProvider
	repo        *fakesecurerepo.FakeSecureRepo
	persistence *sessions.Persistence
	creds       *credentials.Propagator
	service     *auth.SessionService
}

// setupTestFixture creates a started service over a fake provider and store
func setupTestFixture(t *testing.T, options ...auth.SessionServiceOption) *testFixture {
	t.Helper()
	return setupWrappedFixture(t, func(fp *fakeprovider.FakeProvider) provider.Client { return fp }, options...)
}

// setupWrappedFixture is setupTestFixture with the service talking to wrap(fp)
func setupWrappedFixture(t *testing.T, wrap func(*fakeprovider.FakeProvider) provider.Client, options ...auth.SessionServiceOption) *testFixture {
	t.Helper()

	fp := fakeprovider.NewFakeProvider()
	fp.AddUser(testUserEmail, testUserPassword, testUserID)
	repo := fakesecurerepo.NewFakeSecureRepo()
	persistence, err := sessions.NewPersistence(repo, sessions.WithPersistenceLogger(zerolog.Nop()))
	require.NoError(t, err)
	creds := credentials.NewPropagator()

	options = append([]auth.SessionServiceOption{auth.WithLogger(zerolog.Nop())}, options...)
	service, err := auth.NewSessionService(auth.Deps{
		Provider:    wrap(fp),
		Persistence: persistence,
		Credentials: creds,
	}, options...)
	require.NoError(t, err)
	require.NoError(t, service.Start(context.Background()))
	t.Cleanup(func() { _ = service.Close() })

	return &testFixture{
		provider:    fp,
		repo:        repo,
		persistence: persistence,
		creds:       creds,
		service:     service,
	}
}

// signedIn runs the boot check and a successful login
func (f *testFixture) signedIn(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))
	require.True(t, f.service.State().IsAuthenticated)
}

// requireSignedOut checks every observable consequence of having no session
func (f *testFixture) requireSignedOut(t *testing.T) {
	t.Helper()

	st := f.service.State()
	require.Equal(t, sessions.PhaseUnauthenticated, st.Phase)
	require.False(t, st.IsAuthenticated)
	require.Nil(t, st.User)

	_, ok := f.creds.AccessToken(context.Background())
	require.False(t, ok, "no credential may be exposed while signed out")
	_, ok = f.creds.UserID()
	require.False(t, ok)
	require.Nil(t, f.persistence.Load(context.Background()))
}

// requireSignedInAs checks state, credentials and storage agree on session
func (f *testFixture) requireSignedInAs(t *testing.T, session *sessions.Session) {
	t.Helper()

	st := f.service.State()
	require.Equal(t, sessions.PhaseAuthenticated, st.Phase)
	require.True(t, st.IsAuthenticated)
	require.NotNil(t, st.User)
	require.Equal(t, session.UserID, st.User.ID)
	require.Equal(t, session.Email, st.User.Email)

	token, ok := f.creds.AccessToken(context.Background())
	require.True(t, ok)
	require.Equal(t, session.AccessToken, token)
	userID, ok := f.creds.UserID()
	require.True(t, ok)
	require.Equal(t, session.UserID, userID)

	stored := f.persistence.Load(context.Background())
	require.NotNil(t, stored)
	require.Equal(t, session.AccessToken, stored.AccessToken)
}

func storedSession() *sessions.Session {
	return &sessions.Session{
		UserID:       testUserID,
		Email:        testUserEmail,
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
}

func TestNewSessionService_MissingDependencies(t *testing.T) {
	fp := fakeprovider.NewFakeProvider()
	persistence, err := sessions.NewPersistence(fakesecurerepo.NewFakeSecureRepo())
	require.NoError(t, err)
	creds := credentials.NewPropagator()

	tests := []struct {
		name string
		deps auth.Deps
	}{
		{"missing provider", auth.Deps{Persistence: persistence, Credentials: creds}},
		{"missing persistence", auth.Deps{Provider: fp, Credentials: creds}},
		{"missing credentials", auth.Deps{Provider: fp, Persistence: persistence}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewSessionService(tt.deps)
			require.Error(t, err)
		})
	}
}

func TestNewSessionService_StartsInitializing(t *testing.T) {
	f := setupTestFixture(t)

	st := f.service.State()
	require.Equal(t, sessions.PhaseInitializing, st.Phase)
	require.True(t, st.IsLoading)
	require.False(t, st.IsAuthenticated)
	_, ok := f.creds.AccessToken(context.Background())
	require.False(t, ok)
}

func TestStart_Lifecycle(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.service.Start(ctx), apperrors.ErrAlreadyStarted)
	require.Equal(t, 1, f.provider.Listeners())

	require.NoError(t, f.service.Close())
	require.NoError(t, f.service.Close())
	require.Equal(t, 0, f.provider.Listeners())
	require.ErrorIs(t, f.service.Start(ctx), apperrors.ErrClosed)
}

func TestClose_StopsApplyingProviderEvents(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)
	before := f.service.Transitions()

	require.NoError(t, f.service.Close())
	f.provider.Emit(context.Background(), sessions.SignedOut())

	require.Equal(t, before, f.service.Transitions())
	require.True(t, f.service.State().IsAuthenticated)
}

func TestCheckAuth_NoSessionAnywhere(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.service.CheckAuth(context.Background()))

	f.requireSignedOut(t)
	require.False(t, f.service.State().IsLoading)
	require.Equal(t, uint64(1), f.service.Transitions())
}

func TestCheckAuth_ProviderSessionWins(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	current := &sessions.Session{UserID: testUserID, Email: testUserEmail, AccessToken: "provider-access", RefreshToken: "r"}
	f.provider.SetSession(current)
	require.NoError(t, f.persistence.Save(ctx, storedSession()))

	require.NoError(t, f.service.CheckAuth(ctx))

	f.requireSignedInAs(t, current)
}

func TestCheckAuth_RestoresPersistedSession(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.persistence.Save(ctx, storedSession()))

	require.NoError(t, f.service.CheckAuth(ctx))

	restored, err := f.provider.GetSession(ctx)
	require.NoError(t, err)
	require.NotEqual(t, "stored-access", restored.AccessToken, "restore must validate with the provider")
	f.requireSignedInAs(t, restored)
}

func TestCheckAuth_RestoreRejectedFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.persistence.Save(ctx, storedSession()))
	f.provider.FailRestore(apperrors.ErrInvalidRefresh)

	err := f.service.CheckAuth(ctx)

	require.ErrorIs(t, err, apperrors.ErrInvalidRefresh)
	f.requireSignedOut(t)
	require.False(t, f.repo.Has(sessions.DefaultStorageKey))
}

func TestCheckAuth_ProviderErrorFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.FailGetSession(apperrors.ErrProviderUnavailable)

	err := f.service.CheckAuth(context.Background())

	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	f.requireSignedOut(t)
	require.False(t, f.service.State().IsLoading)
}

func TestCheckAuth_StorageAndProviderBothFailing(t *testing.T) {
	f := setupTestFixture(t)
	f.repo.FailReads(errors.New("keychain locked"))
	f.provider.FailGetSession(apperrors.ErrProviderUnavailable)

	err := f.service.CheckAuth(context.Background())

	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	st := f.service.State()
	require.Equal(t, sessions.PhaseUnauthenticated, st.Phase)
	require.False(t, st.IsAuthenticated)
	require.False(t, st.IsLoading)
	_, ok := f.creds.AccessToken(context.Background())
	require.False(t, ok)
}

func TestCheckAuth_CorruptStorageIsNoSession(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.persistence.Save(ctx, storedSession()))
	f.repo.MarkCorrupt(sessions.DefaultStorageKey)

	require.NoError(t, f.service.CheckAuth(ctx))

	f.requireSignedOut(t)
	require.False(t, f.repo.Has(sessions.DefaultStorageKey))
}

func TestCheckAuth_ConcurrentCallsSettle(t *testing.T) {
	f := setupTestFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.service.CheckAuth(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, sessions.PhaseUnauthenticated, f.service.State().Phase)
	require.False(t, f.service.State().IsLoading)
	require.LessOrEqual(t, f.provider.GetSessionCalls(), 10)
}

func TestLogin_Success(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))

	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))

	current, err := f.provider.GetSession(ctx)
	require.NoError(t, err)
	f.requireSignedInAs(t, current)
	require.False(t, f.service.State().IsLoading)
	// The provider reported SIGNED_IN itself, so the returned session is not re-applied.
	require.Equal(t, uint64(2), f.service.Transitions())
}

func TestLogin_ScriptedSessionThenProviderEcho(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	session := &sessions.Session{UserID: "u9", Email: "a@b.com", AccessToken: "tA"}
	f.provider.ScriptSignIn(session, nil)
	f.provider.SilenceSignIn(true)

	require.NoError(t, f.service.Login(ctx, "a@b.com", "pw"))
	require.Equal(t, sessions.PhaseAuthenticated, f.service.State().Phase)
	require.Equal(t, "u9", f.service.State().User.ID)
	after := f.service.Transitions()

	f.provider.Emit(ctx, sessions.SignedIn(session))
	require.Equal(t, after, f.service.Transitions())
}

func TestLogin_AppliesWithoutProviderEvent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	f.provider.SilenceSignIn(true)

	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))

	require.True(t, f.service.State().IsAuthenticated)
}

// refreshDuringSignIn rotates the access token before SignIn returns, the way a
// background refresh loop can when the issued token is already near expiry.
type refreshDuringSignIn struct {
	*fakeprovider.FakeProvider
}

func (p refreshDuringSignIn) SignIn(ctx context.Context, email, password string) (*sessions.Session, error) {
	session, err := p.FakeProvider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if _, err := p.FakeProvider.Refresh(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// signOutDuringSignIn signs out before SignIn returns.
type signOutDuringSignIn struct {
	*fakeprovider.FakeProvider
}

func (p signOutDuringSignIn) SignIn(ctx context.Context, email, password string) (*sessions.Session, error) {
	session, err := p.FakeProvider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := p.FakeProvider.SignOut(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func TestLogin_KeepsTokenRefreshedBeforeReturn(t *testing.T) {
	f := setupWrappedFixture(t, func(fp *fakeprovider.FakeProvider) provider.Client {
		return refreshDuringSignIn{FakeProvider: fp}
	})
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))

	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))

	current, err := f.provider.GetSession(ctx)
	require.NoError(t, err)
	f.requireSignedInAs(t, current)
	require.Equal(t, uint64(3), f.service.Transitions())
}

func TestLogin_KeepsSignOutReportedBeforeReturn(t *testing.T) {
	f := setupWrappedFixture(t, func(fp *fakeprovider.FakeProvider) provider.Client {
		return signOutDuringSignIn{FakeProvider: fp}
	})
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))

	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))

	f.requireSignedOut(t)
}

func TestLogin_InvalidPasswordFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)

	err := f.service.Login(context.Background(), testUserEmail, "wrong-password")

	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	f.requireSignedOut(t)
}

func TestLogin_IncompleteSessionFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	f.provider.ScriptSignIn(&sessions.Session{UserID: testUserID}, nil)

	err := f.service.Login(ctx, testUserEmail, testUserPassword)

	require.ErrorIs(t, err, apperrors.ErrNoSession)
	f.requireSignedOut(t)
}

func TestLogin_InvalidInputDoesNotReachProvider(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	before := f.service.Transitions()

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", testUserPassword},
		{"malformed email", "not-an-email", testUserPassword},
		{"empty password", testUserEmail, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.Login(ctx, tt.email, tt.password)
			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}

	require.Zero(t, f.provider.SignInCalls())
	require.Equal(t, before, f.service.Transitions())
}

func TestLogin_StorageFailureStillAuthenticates(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	f.repo.FailWrites(errors.New("keychain unavailable"))

	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))

	require.True(t, f.service.State().IsAuthenticated)
	_, ok := f.creds.AccessToken(ctx)
	require.True(t, ok)
}

func TestLogin_LoadingFlagAroundCall(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))

	var states []auth.State
	unwatch := f.service.Watch(func(st auth.State) { states = append(states, st) })
	defer unwatch()

	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))

	require.GreaterOrEqual(t, len(states), 2)
	require.True(t, states[0].IsLoading)
	require.False(t, states[0].IsAuthenticated)
	last := states[len(states)-1]
	require.False(t, last.IsLoading)
	require.True(t, last.IsAuthenticated)
}

func TestLogout_ClearsEverything(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)

	require.NoError(t, f.service.Logout(context.Background()))

	f.requireSignedOut(t)
}

func TestLogout_FallsBackWhenEventNeverArrives(t *testing.T) {
	f := setupTestFixture(t, auth.WithSignOutWait(20*time.Millisecond))
	f.signedIn(t)
	f.provider.SilenceSignOut(true)

	start := time.Now()
	require.NoError(t, f.service.Logout(context.Background()))

	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	f.requireSignedOut(t)
}

func TestLogout_ProviderErrorStillSignsOut(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)
	f.provider.FailSignOut(apperrors.ErrProviderUnavailable)

	err := f.service.Logout(context.Background())

	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	f.requireSignedOut(t)
}

func TestLogout_WhenAlreadySignedOut(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.service.CheckAuth(context.Background()))

	require.NoError(t, f.service.Logout(context.Background()))
	f.requireSignedOut(t)
}

func TestTokenRefresh_UpdatesCredentialsAndStorage(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)
	before := f.service.Transitions()

	refreshed, err := f.provider.Refresh(context.Background())
	require.NoError(t, err)

	f.requireSignedInAs(t, refreshed)
	require.Equal(t, before+1, f.service.Transitions())
}

func TestOnAuthEvent_DuplicateIgnored(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)
	ctx := context.Background()
	current, err := f.provider.GetSession(ctx)
	require.NoError(t, err)

	calls := 0
	unwatch := f.service.Watch(func(auth.State) { calls++ })
	defer unwatch()
	before := f.service.Transitions()
	generation := f.creds.Generation()

	f.service.OnAuthEvent(ctx, sessions.SignedIn(current))
	f.service.OnAuthEvent(ctx, sessions.AuthEvent{Kind: sessions.EventUserUpdated, Session: current})

	require.Equal(t, before, f.service.Transitions())
	require.Zero(t, calls)
	require.Equal(t, generation, f.creds.Generation(), "credentials must not be rebound for a duplicate")
}

func TestOnAuthEvent_InitialNilResolvesInitializing(t *testing.T) {
	f := setupTestFixture(t)

	f.service.OnAuthEvent(context.Background(), sessions.InitialSession(nil))

	require.Equal(t, sessions.PhaseUnauthenticated, f.service.State().Phase)
	require.Equal(t, uint64(1), f.service.Transitions())
}

func TestOnAuthEvent_PartialSessionIsNoSession(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)

	f.service.OnAuthEvent(context.Background(), sessions.TokenRefreshed(&sessions.Session{UserID: testUserID}))

	f.requireSignedOut(t)
}

func TestOnAuthEvent_PasswordRecoveryCarriesSession(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.service.CheckAuth(context.Background()))
	session := &sessions.Session{UserID: testUserID, Email: testUserEmail, AccessToken: "recovery-access"}

	f.provider.Emit(context.Background(), sessions.AuthEvent{Kind: sessions.EventPasswordRecovery, Session: session})

	f.requireSignedInAs(t, session)
}

func TestOnAuthEvent_UserSwitchReplacesCredentials(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)
	other := &sessions.Session{UserID: "user-2", Email: "jane@example.com", AccessToken: "access-user-2"}

	f.provider.Emit(context.Background(), sessions.SignedIn(other))

	f.requireSignedInAs(t, other)
}

func TestWatch_ObservesTransitionsInOrder(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	var phases []sessions.Phase
	unwatch := f.service.Watch(func(st auth.State) {
		if len(phases) == 0 || phases[len(phases)-1] != st.Phase {
			phases = append(phases, st.Phase)
		}
	})

	require.NoError(t, f.service.CheckAuth(ctx))
	require.NoError(t, f.service.Login(ctx, testUserEmail, testUserPassword))
	require.NoError(t, f.service.Logout(ctx))
	unwatch()
	f.signedIn(t)

	require.Equal(t, []sessions.Phase{
		sessions.PhaseUnauthenticated,
		sessions.PhaseAuthenticated,
		sessions.PhaseUnauthenticated,
	}, phases)
}

func TestWatch_PanickingWatcherDoesNotBlockOthers(t *testing.T) {
	f := setupTestFixture(t)

	f.service.Watch(func(auth.State) { panic("boom") })
	var got *auth.State
	f.service.Watch(func(st auth.State) { got = &st })

	require.NoError(t, f.service.CheckAuth(context.Background()))
	require.NotNil(t, got)
	require.Equal(t, sessions.PhaseUnauthenticated, got.Phase)
}

func TestSignUp_SignsInImmediately(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))

	signedIn, err := f.service.SignUp(ctx, "new.user@example.com", "secret-pass", map[string]any{"name": "New"})

	require.NoError(t, err)
	require.True(t, signedIn)
	st := f.service.State()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "new.user@example.com", st.User.Email)
}

func TestSignUp_ConfirmationPending(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.CheckAuth(ctx))
	f.provider.RequireConfirmation(true)

	signedIn, err := f.service.SignUp(ctx, "new.user@example.com", "secret-pass", nil)

	require.NoError(t, err)
	require.False(t, signedIn)
	f.requireSignedOut(t)
}

func TestSignUp_RejectedKeepsState(t *testing.T) {
	f := setupTestFixture(t)
	f.signedIn(t)
	before := f.service.Transitions()

	_, err := f.service.SignUp(context.Background(), testUserEmail, testUserPassword, nil)

	require.ErrorIs(t, err, apperrors.ErrProviderRejected)
	require.Equal(t, before, f.service.Transitions())
	require.True(t, f.service.State().IsAuthenticated)
}

func TestResetPassword(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.ResetPassword(ctx, testUserEmail))
	require.Equal(t, []string{testUserEmail}, f.provider.ResetEmails())

	require.ErrorIs(t, f.service.ResetPassword(ctx, "nope"), apperrors.ErrInvalidInput)

	f.provider.FailReset(apperrors.ErrProviderUnavailable)
	require.ErrorIs(t, f.service.ResetPassword(ctx, testUserEmail), apperrors.ErrProviderUnavailable)
}
