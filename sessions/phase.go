package sessions

// Phase classifies what is currently known about the session.
type Phase int

const (
	// PhaseInitializing means no authoritative answer has been reached yet.
	PhaseInitializing Phase = iota
	// PhaseAuthenticated means a valid Session is held.
	PhaseAuthenticated
	// PhaseUnauthenticated means there is explicitly no Session.
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "INITIALIZING"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	case PhaseUnauthenticated:
		return "UNAUTHENTICATED"
	}
	return "UNKNOWN"
}

// PhaseFor returns the terminal phase implied by holding s.
func PhaseFor(s *Session) Phase {
	if s.Valid() {
		return PhaseAuthenticated
	}
	return PhaseUnauthenticated
}
