// Package navigation keeps the user in the route group matching the session
// phase. It only ever issues redirects; it never changes the session.
package navigation

import "strings"

// RouteGroup classifies a navigation location.
type RouteGroup int

const (
	// GroupNone is any location outside both groups (e.g. the root splash).
	GroupNone RouteGroup = iota
	// GroupApp is the protected area.
	GroupApp
	// GroupAuth is the public sign in / sign up area.
	GroupAuth
)

func (g RouteGroup) String() string {
	switch g {
	case GroupApp:
		return "APP"
	case GroupAuth:
		return "AUTH"
	}
	return "NONE"
}

// Routes are the redirect targets.
type Routes struct {
	Home   string // Protected landing route
	SignIn string // Public sign in route
}

// DefaultRoutes matches the default classifier segments.
var DefaultRoutes = Routes{Home: "/(app)/dashboard", SignIn: "/(auth)/sign-in"}

// Classifier maps the first path segment to a RouteGroup.
type Classifier struct {
	app  map[string]struct{}
	auth map[string]struct{}
}

// NewClassifier builds a Classifier. Empty segment lists fall back to the defaults
// "(app)"/"app" and "(auth)"/"auth".
func NewClassifier(appSegments, authSegments []string) Classifier {
	if len(appSegments) == 0 {
		appSegments = []string{"(app)", "app"}
	}
	if len(authSegments) == 0 {
		authSegments = []string{"(auth)", "auth"}
	}
	return Classifier{app: toSet(appSegments), auth: toSet(authSegments)}
}

// Classify returns the group of path, judged by its first segment only.
func (c Classifier) Classify(path string) RouteGroup {
	first := firstSegment(path)
	if _, ok := c.app[first]; ok {
		return GroupApp
	}
	if _, ok := c.auth[first]; ok {
		return GroupAuth
	}
	return GroupNone
}

func firstSegment(path string) string {
	// Drop query and fragment before splitting.
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.Trim(v, "/")] = struct{}{}
	}
	return set
}
