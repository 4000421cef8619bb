package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
)

const maxErrorBody = 4 << 10

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

// SignUp posts the registration to the configured sign up endpoint. When the
// response carries tokens the user is signed in and SIGNED_IN is emitted.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*sessions.Session, error) {
	if c.signUpURL == "" {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupported, "sign up endpoint not configured")
	}

	var tr TokenResponse
	if err := c.postJSON(ctx, c.signUpURL, signUpRequest{Email: email, Password: password, Data: metadata}, &tr); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if !tr.HasSession() {
		return nil, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	tok := tr.OAuth2Token(c.now())
	session, err := c.sessionFromToken(ctx, tok, nil)
	if err != nil {
		return nil, err
	}
	c.setCurrent(session, tok)
	c.dispatcher.Emit(ctx, sessions.SignedIn(session))
	return session.Clone(), nil
}

// ResetPasswordForEmail posts to the configured recovery endpoint.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	if c.recoverURL == "" {
		return apperrors.Wrapf(apperrors.ErrUnsupported, "recovery endpoint not configured")
	}
	if err := c.postJSON(ctx, c.recoverURL, recoverRequest{Email: email}, nil); err != nil {
		return fmt.Errorf("password recovery: %w", err)
	}
	return nil
}

// revoke calls the RFC 7009 revocation endpoint.
func (c *Client) revoke(ctx context.Context, token, tokenTypeHint string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenTypeHint)
	form.Set("client_id", c.oauth.ClientID)
	if c.oauth.ClientSecret != "" {
		form.Set("client_secret", c.oauth.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrProviderUnavailable, "%s: %v", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.Wrapf(apperrors.ErrProviderUnavailable, "%s returned %d", req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperrors.Wrapf(apperrors.ErrProviderRejected, "%s returned %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
