package credentials

import (
	"context"
	"net/http"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"golang.org/x/oauth2"
)

// ErrNoCredential is returned for Required requests sent while signed out.
var ErrNoCredential = apperrors.ErrNoCredential

// Policy decides what happens to a request when no access token is available.
type Policy int

const (
	// PolicyOptional sends the request without an Authorization header.
	PolicyOptional Policy = iota
	// PolicyRequired fails the request locally with ErrNoCredential.
	PolicyRequired
)

// TokenProvider is anything that can resolve the current access token.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Transport attaches the current bearer token to each outgoing request. The token
// is resolved per request, immediately before dispatch.
type Transport struct {
	Source TokenProvider
	Policy Policy
	Base   http.RoundTripper // http.DefaultTransport when nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBodyClosed := false
	if req.Body != nil {
		defer func() {
			if !reqBodyClosed {
				req.Body.Close()
			}
		}()
	}

	token, ok := "", false
	if t.Source != nil {
		token, ok = t.Source.AccessToken(req.Context())
	}
	if !ok && t.Policy == PolicyRequired {
		return nil, ErrNoCredential
	}

	outReq := req.Clone(req.Context())
	outReq.Header.Del("Authorization")
	if ok {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(outReq)
	}

	// The base transport closes the body from here on.
	reqBodyClosed = true
	return t.base().RoundTrip(outReq)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// Client returns an *http.Client that authorizes requests from p.
func (p *Propagator) Client(policy Policy, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Source: p, Policy: policy, Base: base}}
}

// TokenSource adapts p to oauth2.TokenSource. Each Token call reads the current
// getter; do not wrap the result in oauth2.ReuseTokenSource, which would cache it.
func (p *Propagator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, p: p}
}

type tokenSource struct {
	ctx context.Context
	p   *Propagator
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	token, ok := ts.p.AccessToken(ts.ctx)
	if !ok {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
