// Package csrf issues and verifies the per-attempt anti-forgery tokens used
// on state-mutating authentication requests. The token rides in a protected
// cookie and must be echoed back by the client; the server holds no state.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

const (
	// CookieName is the cookie carrying the issued token.
	CookieName = "csrf_token"

	// HeaderName is accepted as an alternative to the JSON body field.
	HeaderName = "X-CSRF-Token"

	// TokenTTL bounds how long an issued token can be echoed back.
	TokenTTL = 1 * time.Hour

	// tokenBytes gives 192 bits of entropy, comfortably past the 96-bit floor.
	tokenBytes = 24
)

// Issue generates a fresh random token. The caller sets it as an HttpOnly,
// SameSite cookie and returns it in the response body so the client can echo
// it on the follow-up request.
func Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base58.Encode(buf), nil
}

// Verify reports whether the client-supplied token matches the cookie value.
// Both must be present. The comparison is constant-time to avoid leaking the
// match position through timing.
func Verify(supplied, cookie string) bool {
	if supplied == "" || cookie == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(cookie)) == 1
}
