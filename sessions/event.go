package sessions

// EventKind is the type of change reported by the identity provider.
type EventKind string

const (
	EventInitialSession   EventKind = "INITIAL_SESSION"
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventUserUpdated      EventKind = "USER_UPDATED"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
)

// AuthEvent is a single notification from the identity provider. It is consumed
// exactly once and never stored.
type AuthEvent struct {
	Kind    EventKind
	Session *Session // nil when the event carries no session
}

// SignedOut builds the event used for every fail-closed transition.
func SignedOut() AuthEvent {
	return AuthEvent{Kind: EventSignedOut}
}

// SignedIn builds a sign-in event for s.
func SignedIn(s *Session) AuthEvent {
	return AuthEvent{Kind: EventSignedIn, Session: s}
}

// InitialSession builds the boot event for s (which may be nil).
func InitialSession(s *Session) AuthEvent {
	return AuthEvent{Kind: EventInitialSession, Session: s}
}

// TokenRefreshed builds a refresh event for s.
func TokenRefreshed(s *Session) AuthEvent {
	return AuthEvent{Kind: EventTokenRefreshed, Session: s}
}

// CandidateSession returns the session the event proposes to hold, or nil when the
// event means "no session". A SIGNED_OUT event never proposes a session even if
// the provider attached one.
func (e AuthEvent) CandidateSession() *Session {
	if e.Kind == EventSignedOut || !e.Session.Valid() {
		return nil
	}
	return e.Session
}
