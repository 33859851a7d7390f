package store

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// tokenBytes is the entropy of a session token. 32 bytes is well past the
// 128-bit floor required to make guessing infeasible.
const tokenBytes = 32

// NewToken generates an opaque session token from a cryptographically strong
// random source. Base58 keeps the token URL- and cookie-safe without padding.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base58.Encode(buf), nil
}
