package robinhood

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials carries a user's login secrets. Transient only: never
// persisted by this package.
type Credentials struct {
	Username string
	Password string
	MFACode  string // optional TOTP/static code
}

// Session is the authenticated state exchanged for credentials. It is owned
// by the OAuth2Client and SessionStore; the dispatcher holds a read
// reference and asks for a refresh rather than mutating it.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	DeviceToken  string    `json:"device_token"`
	AccountID    string    `json:"account_id,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the session may still back authenticated calls at
// now, keeping margin of slack before the hard expiry. A session whose
// expiry cannot be established is never valid: stale sessions are refreshed,
// not used optimistically.
func (s *Session) Valid(margin time.Duration, now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	exp := s.ExpiresAt
	if exp.IsZero() {
		exp = expiryFromToken(s.AccessToken)
	}
	if exp.IsZero() {
		return false
	}
	return now.Before(exp.Add(-margin))
}

// expiryFromToken recovers the expiry from the access token's registered JWT
// claims. Robinhood access tokens are JWTs; this is a fallback for session
// records persisted before expires_at was recorded. The signature is not
// verified; the value only bounds local reuse, the upstream still enforces
// real expiry.
func expiryFromToken(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
