package oidc

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// accessTokenHints holds the claims read from a JWT access token without
// verifying it. They are hints only: the provider already vouched for the token
// when it issued it, and the token is never trusted for authorization here.
type accessTokenHints struct {
	Subject string
	Email   string
	Expiry  time.Time
}

// parseAccessTokenHints extracts sub, email and exp from a JWT access token.
// Opaque (non-JWT) tokens return an error.
func parseAccessTokenHints(rawToken string) (accessTokenHints, error) {
	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return accessTokenHints{}, fmt.Errorf("failed to parse access token: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return accessTokenHints{}, fmt.Errorf("error extracting claims")
	}

	hints := accessTokenHints{}
	hints.Subject, _ = claims.GetSubject()
	hints.Email, _ = claims["email"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		hints.Expiry = exp.Time
	}
	return hints, nil
}
