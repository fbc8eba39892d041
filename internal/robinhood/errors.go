package robinhood

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers branch with errors.Is / errors.As; expected control
// flow (verification required) is a tagged LoginResult, never an error.
var (
	// ErrInvalidCredentials marks a login rejected for a bad username or
	// password. Retrying with the same credentials is pointless.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrSessionExpired marks a refresh token rejected upstream; a full
	// login is required.
	ErrSessionExpired = errors.New("session expired")

	// ErrAuthenticationFailed marks a request still rejected after the
	// single refresh-and-retry cycle.
	ErrAuthenticationFailed = errors.New("authentication rejected")

	// ErrVerificationFailed marks a rejected or unusable verification
	// challenge. Retryable up to the configured attempt limit.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrNoSession is returned when an authenticated call is attempted
	// with no session available at all.
	ErrNoSession = errors.New("no session available")
)

// APIError is a non-retryable upstream rejection, surfaced with enough
// structure for callers to branch on.
type APIError struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("robinhood: HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("robinhood: HTTP %d", e.StatusCode)
}
