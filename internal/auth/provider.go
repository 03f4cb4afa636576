// Package auth supplies bearer tokens for the Microsoft Graph API.
//
// A TokenProvider is handed to the graph client at construction. Static
// wraps a fixed token (tests, CI, tokens minted elsewhere). DeviceCode runs
// the Microsoft identity platform device-code flow once through
// golang.org/x/oauth2, persists the token to a cache file readable only by
// the owner and refreshes the access token when it is about to expire.
package auth

import (
	"context"
	"errors"
)

// TokenProvider supplies access tokens.
type TokenProvider interface {
	// Token returns a valid access token.
	Token(ctx context.Context) (string, error)

	// Invalidate drops the cached access token so the next Token call
	// acquires a fresh one.
	Invalidate()
}

var (
	// ErrNotLoggedIn is returned when no credentials are cached.
	ErrNotLoggedIn = errors.New("not logged in (run 'notemirror auth login')")

	// ErrNoRefreshToken is returned when the access token expired and no
	// refresh token is available.
	ErrNoRefreshToken = errors.New("access token expired and no refresh token is cached")
)

// Static is a fixed token.
type Static string

// Token returns the token, or ErrNotLoggedIn when it is empty.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNotLoggedIn
	}
	return string(s), nil
}

// Invalidate is a no-op; a static token cannot be renewed.
func (s Static) Invalidate() {}
