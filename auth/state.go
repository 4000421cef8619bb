package auth

import (
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/sessions"
)

// User is the signed in user as exposed to the rest of the app.
type User struct {
	ID    string
	Email string
}

// State is the read-only value the app renders from.
type State struct {
	User            *User          // nil unless authenticated
	IsAuthenticated bool           // Phase == PhaseAuthenticated
	IsLoading       bool           // initializing, or a check/login/sign up is in flight
	Phase           sessions.Phase // Underlying three-state phase
}

// Watcher is called with the new State after every change, in change order.
// Watchers run while transitions are serialized and must not call back into
// OnAuthEvent, Login, Logout or CheckAuth synchronously.
type Watcher func(State)

// Watch registers w and returns a function that removes it.
func (s *SessionService) Watch(w Watcher) (unwatch func()) {
	id := uuid.New()

	s.watchMu.Lock()
	s.watchers[id] = w
	s.watchOrder = append(s.watchOrder, id)
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if _, ok := s.watchers[id]; !ok {
			return
		}
		delete(s.watchers, id)
		for i, existing := range s.watchOrder {
			if existing == id {
				s.watchOrder = append(s.watchOrder[:i:i], s.watchOrder[i+1:]...)
				break
			}
		}
	}
}

// State returns a snapshot of the current state.
func (s *SessionService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *SessionService) stateLocked() State {
	st := State{
		Phase:           s.phase,
		IsAuthenticated: s.phase == sessions.PhaseAuthenticated,
		IsLoading:       s.phase == sessions.PhaseInitializing || s.inFlight > 0,
	}
	if st.IsAuthenticated {
		st.User = &User{ID: s.session.UserID, Email: s.session.Email}
	}
	return st
}

// notify must be called with applyMu held so watchers see changes in order.
func (s *SessionService) notify(st State) {
	s.watchMu.RLock()
	watchers := make([]Watcher, 0, len(s.watchOrder))
	for _, id := range s.watchOrder {
		watchers = append(watchers, s.watchers[id])
	}
	s.watchMu.RUnlock()

	for _, w := range watchers {
		s.callWatcher(w, st)
	}
}

func (s *SessionService) callWatcher(w Watcher, st State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("State watcher panicked")
		}
	}()
	w(st)
}
