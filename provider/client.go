// Package provider defines the boundary to the external identity provider. The
// session core only consumes this interface; concrete providers live in
// sub-packages.
package provider

import (
	"context"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// Listener receives provider auth events in the order they occurred.
type Listener func(ctx context.Context, event sessions.AuthEvent)

// Subscription is a live registration on the provider's event stream.
type Subscription interface {
	// Unsubscribe releases the registration. Calling it more than once is a no-op.
	Unsubscribe()
}

// Client is the identity provider as seen by the session core.
type Client interface {
	// SignIn verifies credentials and returns the resulting session.
	SignIn(ctx context.Context, email, password string) (*sessions.Session, error)

	// SignUp registers a user. The returned session is nil when the provider
	// requires confirmation before the first sign in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*sessions.Session, error)

	// SignOut ends the provider-side session and emits SIGNED_OUT.
	SignOut(ctx context.Context) error

	// ResetPasswordForEmail starts the provider's password recovery flow.
	ResetPasswordForEmail(ctx context.Context, email string) error

	// GetSession returns the provider's current session, or nil if there is none.
	GetSession(ctx context.Context) (*sessions.Session, error)

	// OnAuthStateChange registers l for the lifetime of the returned Subscription.
	OnAuthStateChange(l Listener) Subscription
}

// Restorer is implemented by providers that can adopt a previously persisted
// session, validating it (typically by refreshing it) with the provider.
type Restorer interface {
	RestoreSession(ctx context.Context, stored *sessions.Session) (*sessions.Session, error)
}
