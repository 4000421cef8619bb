// Package oidc adapts an OpenID Connect identity provider to provider.Client.
// Sign in uses the resource owner password grant, refresh uses the refresh token
// grant and user identity comes from the verified ID token.
package oidc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/provider"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var (
	_ provider.Client   = (*Client)(nil)
	_ provider.Restorer = (*Client)(nil)
)

const (
	defaultRefreshLeeway = time.Minute
	defaultRetryInterval = 30 * time.Second
	defaultHTTPTimeout   = 15 * time.Second
)

// Config describes the identity provider.
type Config struct {
	IssuerURL    string   // Discovery base, e.g. "https://auth.example.com"
	ClientID     string   // Public client registered for the mobile app
	ClientSecret string   // Usually empty for public clients
	Scopes       []string // Defaults to openid, email, offline_access
	SignUpURL    string   // JSON sign up endpoint; sign up unsupported when empty
	RecoverURL   string   // JSON password recovery endpoint; unsupported when empty
}

// Client is a provider.Client over an OpenID Connect provider.
type Client struct {
	oauth      *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	revokeURL  string
	signUpURL  string
	recoverURL string

	httpClient    *http.Client
	logger        zerolog.Logger
	now           func() time.Time
	refreshLeeway time.Duration
	retryInterval time.Duration

	dispatcher *provider.Dispatcher

	// refreshMu serializes grants that replace the current token.
	refreshMu sync.Mutex

	mu      sync.RWMutex
	current *sessions.Session
	token   *oauth2.Token

	kick chan struct{}
}

// Option defines a function type to modify the Client instance.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient     *http.Client
	logger         *zerolog.Logger
	now            func() time.Time
	refreshLeeway  time.Duration
	retryInterval  time.Duration
	providerConfig *gooidc.ProviderConfig
	keySet         gooidc.KeySet
	revokeURL      string
}

// WithHTTPClient sets the client used for every provider call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithLogger sets the logger (defaults to the global zerolog logger)
func WithLogger(logger zerolog.Logger) Option {
	return func(o *clientOptions) { o.logger = &logger }
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// WithRefreshLeeway sets how long before expiry the access token is renewed.
func WithRefreshLeeway(d time.Duration) Option {
	return func(o *clientOptions) { o.refreshLeeway = d }
}

// WithRetryInterval sets the delay before retrying a failed background refresh.
func WithRetryInterval(d time.Duration) Option {
	return func(o *clientOptions) { o.retryInterval = d }
}

// WithProviderConfig skips discovery and uses the given endpoints.
func WithProviderConfig(pc gooidc.ProviderConfig) Option {
	return func(o *clientOptions) { o.providerConfig = &pc }
}

// WithKeySet verifies ID tokens against ks instead of the provider's JWKS endpoint.
func WithKeySet(ks gooidc.KeySet) Option {
	return func(o *clientOptions) { o.keySet = ks }
}

// WithRevocationURL sets the RFC 7009 endpoint used on sign out when discovery
// does not advertise one.
func WithRevocationURL(u string) Option {
	return func(o *clientOptions) { o.revokeURL = u }
}

// New builds a Client, running OIDC discovery unless WithProviderConfig is given.
func New(ctx context.Context, cfg Config, options ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.IssuerURL) == "" {
		return nil, errors.New("[oidc.New] IssuerURL is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("[oidc.New] ClientID is required")
	}

	opts := clientOptions{
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		now:           time.Now,
		refreshLeeway: defaultRefreshLeeway,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range options {
		opt(&opts)
	}

	c := &Client{
		signUpURL:     cfg.SignUpURL,
		recoverURL:    cfg.RecoverURL,
		revokeURL:     opts.revokeURL,
		httpClient:    opts.httpClient,
		logger:        log.Logger,
		now:           opts.now,
		refreshLeeway: opts.refreshLeeway,
		retryInterval: opts.retryInterval,
		dispatcher:    provider.NewDispatcher(),
		kick:          make(chan struct{}, 1),
	}
	if opts.logger != nil {
		c.logger = *opts.logger
	}

	cctx := c.clientContext(ctx)
	var oidcProvider *gooidc.Provider
	if opts.providerConfig != nil {
		oidcProvider = opts.providerConfig.NewProvider(cctx)
	} else {
		p, err := gooidc.NewProvider(cctx, cfg.IssuerURL)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrProviderUnavailable, "[oidc.New] failed to create OIDC provider: %v", err)
		}
		oidcProvider = p

		var discovered struct {
			RevocationEndpoint string `json:"revocation_endpoint"`
		}
		if err := p.Claims(&discovered); err == nil && c.revokeURL == "" {
			c.revokeURL = discovered.RevocationEndpoint
		}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", gooidc.ScopeOfflineAccess}
	}
	c.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oidcProvider.Endpoint(),
		Scopes:       scopes,
	}

	verifierConfig := &gooidc.Config{ClientID: cfg.ClientID, Now: c.now}
	if opts.keySet != nil {
		c.verifier = gooidc.NewVerifier(cfg.IssuerURL, opts.keySet, verifierConfig)
	} else {
		c.verifier = oidcProvider.Verifier(verifierConfig)
	}
	return c, nil
}

// SignIn exchanges email and password for tokens and emits SIGNED_IN.
func (c *Client) SignIn(ctx context.Context, email, password string) (*sessions.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	tok, err := c.oauth.PasswordCredentialsToken(c.clientContext(ctx), email, password)
	if err != nil {
		return nil, classifyGrantError("password grant", err)
	}
	session, err := c.sessionFromToken(ctx, tok, nil)
	if err != nil {
		return nil, err
	}

	c.setCurrent(session, tok)
	c.dispatcher.Emit(ctx, sessions.SignedIn(session))
	return session.Clone(), nil
}

// SignOut revokes the refresh token when possible, drops the local session and
// emits SIGNED_OUT. Revocation failures are logged, not returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()

	if tok != nil && tok.RefreshToken != "" && c.revokeURL != "" {
		if err := c.revoke(ctx, tok.RefreshToken, "refresh_token"); err != nil {
			c.logger.Err(err).Str("token_type", "refresh_token").Msg("Failed to revoke token")
		}
	}

	c.setCurrent(nil, nil)
	c.dispatcher.Emit(ctx, sessions.SignedOut())
	return nil
}

// GetSession returns the current session, refreshing it first if the access
// token has expired.
func (c *Client) GetSession(ctx context.Context) (*sessions.Session, error) {
	c.mu.RLock()
	current := c.current.Clone()
	c.mu.RUnlock()

	if current == nil || !current.Expired(c.now()) {
		return current, nil
	}
	return c.Refresh(ctx)
}

// RestoreSession validates a persisted session by refreshing it with the
// provider. It does not emit; the caller applies the result.
func (c *Client) RestoreSession(ctx context.Context, stored *sessions.Session) (*sessions.Session, error) {
	if !stored.Valid() || stored.RefreshToken == "" {
		return nil, apperrors.ErrInvalidRefresh
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	session, tok, err := c.refreshGrant(ctx, stored.RefreshToken, stored)
	if err != nil {
		return nil, err
	}
	c.setCurrent(session, tok)
	return session.Clone(), nil
}

// Refresh renews the access token and emits TOKEN_REFRESHED. If the provider
// rejects the refresh token the session is dropped and SIGNED_OUT is emitted.
func (c *Client) Refresh(ctx context.Context) (*sessions.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	previous := c.current.Clone()
	tok := c.token
	c.mu.RUnlock()

	if previous == nil || tok == nil || tok.RefreshToken == "" {
		return nil, apperrors.ErrNoSession
	}

	session, newTok, err := c.refreshGrant(ctx, tok.RefreshToken, previous)
	if apperrors.Is(err, apperrors.ErrInvalidRefresh) {
		c.setCurrent(nil, nil)
		c.dispatcher.Emit(ctx, sessions.SignedOut())
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.setCurrent(session, newTok)
	c.dispatcher.Emit(ctx, sessions.TokenRefreshed(session))
	return session.Clone(), nil
}

// OnAuthStateChange registers l. When a session is already held, l first
// receives INITIAL_SESSION for it.
func (c *Client) OnAuthStateChange(l provider.Listener) provider.Subscription {
	return c.dispatcher.SubscribeWithInitial(context.Background(), l, func() *sessions.Session {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.current.Clone()
	})
}

// Run keeps the access token fresh until ctx is done, renewing it refreshLeeway
// before expiry.
func (c *Client) Run(ctx context.Context) error {
	for {
		wait, scheduled := c.nextRefreshIn()

		var timer *time.Timer
		var fire <-chan time.Time
		if scheduled {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-c.kick:
			stopTimer(timer)
		case <-fire:
			if _, err := c.Refresh(ctx); err != nil && !apperrors.Is(err, apperrors.ErrInvalidRefresh) && !apperrors.Is(err, apperrors.ErrNoSession) {
				c.logger.Warn().Err(err).Dur("retry_in", c.retryInterval).Msg("Background token refresh failed")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.retryInterval):
				}
			}
		}
	}
}

func (c *Client) nextRefreshIn() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || c.token.RefreshToken == "" || c.current == nil || c.current.ExpiresAt.IsZero() {
		return 0, false
	}
	wait := c.current.ExpiresAt.Add(-c.refreshLeeway).Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (c *Client) refreshGrant(ctx context.Context, refreshToken string, previous *sessions.Session) (*sessions.Session, *oauth2.Token, error) {
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, nil, classifyGrantError("refresh grant", err)
	}
	session, err := c.sessionFromToken(ctx, tok, previous)
	if err != nil {
		return nil, nil, err
	}
	return session, tok, nil
}

// sessionFromToken builds a Session from a token response. Identity comes from
// the verified id_token when present, otherwise from previous (refresh) or from
// the access token's own claims.
func (c *Client) sessionFromToken(ctx context.Context, tok *oauth2.Token, previous *sessions.Session) (*sessions.Session, error) {
	session := &sessions.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if previous != nil {
		session.UserID = previous.UserID
		session.Email = previous.Email
		if session.RefreshToken == "" {
			session.RefreshToken = previous.RefreshToken
		}
	}

	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := c.verifier.Verify(c.clientContext(ctx), rawIDToken)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidIDToken, "ID token verification failed: %v", err)
		}
		var claims struct {
			Sub   string `json:"sub"`
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidIDToken, "failed to extract claims: %v", err)
		}
		if previous != nil && previous.UserID != "" && previous.UserID != claims.Sub {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidIDToken, "refreshed token belongs to another user")
		}
		session.UserID = claims.Sub
		if claims.Email != "" {
			session.Email = claims.Email
		}
	}

	if session.UserID == "" || session.ExpiresAt.IsZero() {
		if hints, err := parseAccessTokenHints(tok.AccessToken); err == nil {
			if session.UserID == "" {
				session.UserID = hints.Subject
			}
			if session.Email == "" {
				session.Email = hints.Email
			}
			if session.ExpiresAt.IsZero() {
				session.ExpiresAt = hints.Expiry
			}
		}
	}

	if !session.Valid() {
		return nil, apperrors.Wrapf(apperrors.ErrNoSession, "token response does not identify a user")
	}
	return session, nil
}

func (c *Client) setCurrent(session *sessions.Session, tok *oauth2.Token) {
	c.mu.Lock()
	c.current = session.Clone()
	c.token = tok
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, c.httpClient)
}

// classifyGrantError maps token endpoint failures onto the error taxonomy:
// rejected credentials versus an unreachable provider.
func classifyGrantError(grant string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if apperrors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			target := apperrors.ErrInvalidCredentials
			if grant == "refresh grant" {
				target = apperrors.ErrInvalidRefresh
			}
			return apperrors.Wrapf(target, "%s rejected: %v", grant, err)
		}
	}
	return apperrors.Wrapf(apperrors.ErrProviderUnavailable, "%s failed: %v", grant, err)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
