package sessions

import "time"

// Session is the result of a successful authentication with the identity provider.
// A Session missing either UserID or AccessToken is never a partial session; it is
// treated as no session at all.
type Session struct {
	UserID       string    `json:"user_id"`       // Provider's opaque user identifier (OIDC "sub")
	Email        string    `json:"email"`         // Email the user signed in with
	AccessToken  string    `json:"access_token"`  // Short-lived bearer credential
	RefreshToken string    `json:"refresh_token"` // Long-lived, only used by the provider client
	ExpiresAt    time.Time `json:"expires_at"`    // When AccessToken stops being accepted
}

// Valid reports whether s identifies a signed in user.
func (s *Session) Valid() bool {
	return s != nil && s.UserID != "" && s.AccessToken != ""
}

// Identity returns the (user, token) pair used to decide whether two sessions are
// the same. Invalid sessions yield the empty pair.
func (s *Session) Identity() Identity {
	if !s.Valid() {
		return Identity{}
	}
	return Identity{UserID: s.UserID, AccessToken: s.AccessToken}
}

// Expired reports whether the access token has passed its expiry. A zero ExpiresAt
// never expires.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy of s, or nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Identity is the de-duplication key for session transitions.
type Identity struct {
	UserID      string
	AccessToken string
}

// Empty reports whether no user is identified.
func (i Identity) Empty() bool {
	return i.UserID == "" && i.AccessToken == ""
}
