package store

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/authgate/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrDuplicateToken  = errors.New("duplicate session token")
)

// CreateSession carries the inputs for minting a new session. The store
// generates the token and computes the expiry; callers never supply either.
type CreateSession struct {
	UserID         string
	Email          string
	ProviderTokens models.ProviderTokens
	TTL            time.Duration

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// SessionStore defines the interface for session storage operations.
// A session is either absent or valid-until-expiry: Get on an expired row
// behaves as not-found even before the sweep has physically removed it.
type SessionStore interface {
	// Create mints a new session with a freshly generated token and
	// expires_at = now + TTL. The returned record is the only time the
	// plaintext token is handed back to the caller.
	Create(ctx context.Context, params CreateSession) (*models.Session, error)

	// Get retrieves a session by token. Returns ErrSessionNotFound for an
	// absent row and ErrSessionExpired for a row past its expiry.
	Get(ctx context.Context, token string) (*models.Session, error)

	// Delete removes a session by token (logout). Returns whether a row was
	// actually removed; deleting a missing token is not an error.
	Delete(ctx context.Context, token string) (bool, error)

	// DeleteExpired removes all sessions past their expiry (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
