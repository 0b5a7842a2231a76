// Package auth builds and checks the credentials a console presents to the
// signaling relay.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Verifier checks one credential string.
type Verifier interface {
	Verify(credential string) error
}

var ErrMissingCredentials = errors.New("missing credentials")

// RelayCredentials carries the relay authentication knobs.
//
// When both AuthKey and AuthSecret are set, the pair is appended to the
// connect query as AuthKey=AuthSecret. When a session token is empty and
// JWTSecret is set, a short-lived HS256 token is minted in its place.
type RelayCredentials struct {
	AuthKey    string
	AuthSecret string

	JWTSecret string
	JWTTTL    time.Duration

	Now func() time.Time
}

// Query returns the connect query parameters for a session with token.
func (c RelayCredentials) Query(token string, claims RelayClaims) (url.Values, error) {
	if token == "" && c.JWTSecret != "" {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		minted, err := MintRelayToken(c.JWTSecret, claims, now(), c.JWTTTL)
		if err != nil {
			return nil, fmt.Errorf("mint relay token: %w", err)
		}
		token = minted
	}

	q := url.Values{}
	q.Set("token", token)
	if c.AuthKey != "" && c.AuthSecret != "" {
		q.Set(c.AuthKey, c.AuthSecret)
	}
	return q, nil
}

// CredentialFromQuery extracts the session token from a connect query. It is
// used by relay implementations.
func CredentialFromQuery(q url.Values) (string, error) {
	if token := q.Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingCredentials
}
