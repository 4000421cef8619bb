package oidc

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenResponse is the body returned by the sign up endpoint when the provider
// signs the new user in immediately. It follows the RFC 6749 token response
// format, optionally carrying an OIDC id_token.
type TokenResponse struct {
	// AccessToken is the bearer credential. Absent when the provider requires
	// email confirmation before the first sign in.
	AccessToken *string `json:"access_token,omitempty"`

	// IdToken identifies the user (sub, email). Verified before use.
	IdToken *string `json:"id_token,omitempty"`

	// TokenType is always "bearer" in practice.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is used by Client to renew the access token.
	RefreshToken *string `json:"refresh_token,omitempty"`
}

// HasSession reports whether the response signed the user in.
func (tr *TokenResponse) HasSession() bool {
	return tr != nil && tr.AccessToken != nil && *tr.AccessToken != ""
}

// OAuth2Token converts the response to an *oauth2.Token, keeping id_token as extra data.
func (tr *TokenResponse) OAuth2Token(now time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: deref(tr.AccessToken),
		TokenType:   tr.TokenType,
	}
	if tr.RefreshToken != nil {
		tok.RefreshToken = *tr.RefreshToken
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.IdToken != nil {
		tok = tok.WithExtra(map[string]any{"id_token": *tr.IdToken})
	}
	return tok
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
