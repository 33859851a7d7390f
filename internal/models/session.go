package models

import (
	"time"
)

// ProviderTokens is the bundle of opaque tokens issued by the identity
// provider for an authenticated user. The gateway stores them alongside the
// session and never inspects them beyond ID-token claim extraction.
type ProviderTokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
}

// Session represents a user's authenticated session.
// The session token is the only value handed to the client; all session data
// lives server-side.
type Session struct {
	Token  string // opaque high-entropy token, sole lookup key
	UserID string
	Email  string

	ProviderTokens ProviderTokens

	CreatedAt time.Time
	ExpiresAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
