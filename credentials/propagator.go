// Package credentials exposes the current access token and user id to every
// subsystem that sends authorized requests. Values are always read through
// getter functions at send time and never cached by callers.
package credentials

import (
	"context"
	"sync/atomic"
)

// AccessTokenGetter resolves the access token at the moment a request is sent.
// ok is false when there is no signed in user.
type AccessTokenGetter func(ctx context.Context) (token string, ok bool)

// UserIDGetter resolves the current user id.
type UserIDGetter func() (userID string, ok bool)

type getters struct {
	token  AccessTokenGetter
	userID UserIDGetter
}

// Propagator holds the current getters behind a single atomic reference. Every
// update replaces the whole pair so readers never observe a torn user/token.
type Propagator struct {
	current    atomic.Pointer[getters]
	generation atomic.Uint64
}

// NewPropagator returns a Propagator whose getters resolve to nothing.
func NewPropagator() *Propagator {
	p := &Propagator{}
	p.current.Store(&getters{token: noToken, userID: noUserID})
	return p
}

// SetAccessTokenGetter replaces the access token getter. A nil fn resolves to nothing.
func (p *Propagator) SetAccessTokenGetter(fn AccessTokenGetter) {
	if fn == nil {
		fn = noToken
	}
	for {
		old := p.current.Load()
		if p.current.CompareAndSwap(old, &getters{token: fn, userID: old.userID}) {
			p.generation.Add(1)
			return
		}
	}
}

// SetUserIDGetter replaces the user id getter. A nil fn resolves to nothing.
func (p *Propagator) SetUserIDGetter(fn UserIDGetter) {
	if fn == nil {
		fn = noUserID
	}
	for {
		old := p.current.Load()
		if p.current.CompareAndSwap(old, &getters{token: old.token, userID: fn}) {
			p.generation.Add(1)
			return
		}
	}
}

// Set replaces both getters in one store.
func (p *Propagator) Set(token AccessTokenGetter, userID UserIDGetter) {
	if token == nil {
		token = noToken
	}
	if userID == nil {
		userID = noUserID
	}
	p.current.Store(&getters{token: token, userID: userID})
	p.generation.Add(1)
}

// Bind installs getters closing over a fixed token and user id.
func (p *Propagator) Bind(userID, accessToken string) {
	if userID == "" || accessToken == "" {
		p.Reset()
		return
	}
	p.Set(
		func(context.Context) (string, bool) { return accessToken, true },
		func() (string, bool) { return userID, true },
	)
}

// Reset installs getters that resolve to nothing, so requests issued from now on
// are unauthenticated rather than carrying a stale token.
func (p *Propagator) Reset() {
	p.Set(noToken, noUserID)
}

// AccessToken calls the current access token getter.
func (p *Propagator) AccessToken(ctx context.Context) (string, bool) {
	token, ok := p.current.Load().token(ctx)
	if token == "" {
		return "", false
	}
	return token, ok
}

// UserID calls the current user id getter.
func (p *Propagator) UserID() (string, bool) {
	userID, ok := p.current.Load().userID()
	if userID == "" {
		return "", false
	}
	return userID, ok
}

// Generation counts getter replacements.
func (p *Propagator) Generation() uint64 {
	return p.generation.Load()
}

func noToken(context.Context) (string, bool) { return "", false }

func noUserID() (string, bool) { return "", false }
