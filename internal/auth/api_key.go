package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// SharedSecretVerifier compares the relay auth secret in constant time.
type SharedSecretVerifier struct {
	Expected string
}

func (v SharedSecretVerifier) Verify(secret string) error {
	if secret == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
