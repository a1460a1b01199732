// Package session holds the live authorization context model and its
// Redis-backed store. A session's expiry is fixed at creation and never
// extended; mutation is limited to verification flag flips and liveness.
package session

import "time"

// Session is one live authorization context bound to a single principal.
type Session struct {
	ID     string
	UserID string

	// User is the JSON-encoded principal snapshot taken at login. It is
	// re-derived on each login, never mutated in place.
	User string

	// EncryptedTokens holds the sealed access/refresh token material from
	// the identity provider. Raw tokens are never stored.
	EncryptedTokens string

	Clearance string

	MFAVerified       bool
	BiometricVerified bool
	Active            bool

	CreatedAt int64
	ExpiresAt int64
}

// ExpiresAtTime returns the absolute expiry.
func (s *Session) ExpiresAtTime() time.Time {
	return time.Unix(s.ExpiresAt, 0).UTC()
}

// ExpiredAt reports whether the session is past its expiry at the given
// instant.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

// Verified reports whether both verification requirements are satisfied.
func (s *Session) Verified() bool {
	return s.MFAVerified && s.BiometricVerified
}
