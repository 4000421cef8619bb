package navigation

import (
	"sync"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Action is the guard's decision.
type Action int

const (
	ActionNone Action = iota
	ActionToHome
	ActionToSignIn
)

func (a Action) String() string {
	switch a {
	case ActionToHome:
		return "redirect_home"
	case ActionToSignIn:
		return "redirect_sign_in"
	}
	return "none"
}

// Decide is the pure redirect rule for a phase and route group.
func Decide(phase sessions.Phase, group RouteGroup) Action {
	switch phase {
	case sessions.PhaseAuthenticated:
		if group != GroupApp {
			return ActionToHome
		}
	case sessions.PhaseUnauthenticated:
		if group == GroupApp {
			return ActionToSignIn
		}
	}
	return ActionNone
}

// Navigator performs a redirect, replacing the current location.
type Navigator interface {
	Replace(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

func (f NavigatorFunc) Replace(target string) { f(target) }

// StateSource is what the guard observes.
type StateSource interface {
	State() auth.State
	Watch(auth.Watcher) (unwatch func())
}

type input struct {
	phase sessions.Phase
	group RouteGroup
}

// Guard re-evaluates Decide whenever the phase or the route group changes, and
// only then. Unrelated state changes (loading flags, token refreshes) never
// reach the navigator.
type Guard struct {
	nav        Navigator
	routes     Routes
	classifier Classifier
	logger     zerolog.Logger

	mu         sync.Mutex
	current    input
	last       input
	evaluated  bool
	navigating bool // a caller is running the redirect loop
}

// GuardOption defines a function type to modify the Guard instance.
type GuardOption func(*Guard)

// WithRoutes sets the redirect targets.
func WithRoutes(r Routes) GuardOption {
	return func(g *Guard) { g.routes = r }
}

// WithClassifier sets the route group classifier.
func WithClassifier(c Classifier) GuardOption {
	return func(g *Guard) { g.classifier = c }
}

// WithLogger sets the logger (defaults to the global zerolog logger)
func WithLogger(logger zerolog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// NewGuard creates a guard starting at PhaseInitializing and GroupNone.
func NewGuard(nav Navigator, options ...GuardOption) *Guard {
	g := &Guard{
		nav:        nav,
		routes:     DefaultRoutes,
		classifier: NewClassifier(nil, nil),
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Attach follows the phase of src until the returned function is called.
func (g *Guard) Attach(src StateSource) (detach func()) {
	unwatch := src.Watch(func(st auth.State) {
		g.SetPhase(st.Phase)
	})
	g.SetPhase(src.State().Phase)
	return unwatch
}

// SetRoute reports the current location.
func (g *Guard) SetRoute(path string) {
	group := g.classifier.Classify(path)
	g.update(func(in *input) { in.group = group })
}

// SetPhase reports the current session phase.
func (g *Guard) SetPhase(phase sessions.Phase) {
	g.update(func(in *input) { in.phase = phase })
}

// Group returns the group of the last reported route.
func (g *Guard) Group() RouteGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current.group
}

// update records new input. One caller at a time runs the redirect loop; inputs
// arriving meanwhile, including a SetRoute from inside Replace, are picked up by
// that loop, so redirects are issued in input order.
func (g *Guard) update(apply func(*input)) {
	g.mu.Lock()
	apply(&g.current)
	if g.navigating {
		g.mu.Unlock()
		return
	}
	g.navigating = true
	for !g.evaluated || g.current != g.last {
		g.last = g.current
		g.evaluated = true
		in := g.current
		g.mu.Unlock()

		g.redirect(in)

		g.mu.Lock()
	}
	g.navigating = false
	g.mu.Unlock()
}

func (g *Guard) redirect(in input) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Msg("Navigator panicked")
		}
	}()

	target := g.target(Decide(in.phase, in.group))
	if target == "" {
		return
	}
	g.logger.Debug().
		Stringer("phase", in.phase).
		Stringer("group", in.group).
		Str("target", target).
		Msg("Navigation guard redirect")
	g.nav.Replace(target)
}

func (g *Guard) target(a Action) string {
	switch a {
	case ActionToHome:
		return g.routes.Home
	case ActionToSignIn:
		return g.routes.SignIn
	}
	return ""
}
