// Package provider defines the gateway's view of the external identity
// authority. Callers see a small set of operations and a discriminated
// outcome type; everything provider-specific stays behind the interface.
package provider

import (
	"context"
	"time"

	"github.com/wolfeidau/authgate/internal/models"
)

// ChallengeNewPasswordRequired is the only challenge the gateway currently
// completes. Any other challenge name fails with KindUnsupportedChallenge.
const ChallengeNewPasswordRequired = "NEW_PASSWORD_REQUIRED"

// Resolved is a successful authentication result: the provider's token
// bundle plus how long the credentials are good for.
type Resolved struct {
	Username  string
	Tokens    models.ProviderTokens
	ExpiresIn time.Duration
}

// Challenge is a provider demand for an extra authentication step before a
// result can be issued. The session handle is an opaque continuation token
// that must be echoed back when completing the challenge.
type Challenge struct {
	Name    string
	Session string
	Params  map[string]string
}

// Outcome is the discriminated result of an authentication attempt: exactly
// one of Resolved or Challenge is set. Callers must check IsChallenge rather
// than inspect fields ad hoc.
type Outcome struct {
	Resolved  *Resolved
	Challenge *Challenge
}

// IsChallenge reports whether the provider demanded an extra step.
func (o *Outcome) IsChallenge() bool {
	return o.Challenge != nil
}

// ChallengeResponse carries the inputs for completing a challenge.
type ChallengeResponse struct {
	ChallengeName string
	Username      string
	Session       string // provider session handle from the Challenge
	NewPassword   string
}

// IdentityProvider wraps the external identity authority. All operations are
// remote calls that may fail or time out; failures carry a *provider.Error
// with a Kind from the taxonomy in errors.go.
type IdentityProvider interface {
	// Authenticate checks the credentials and returns either a resolved
	// token bundle or a challenge.
	Authenticate(ctx context.Context, username, password string) (*Outcome, error)

	// RespondToChallenge completes a previously issued challenge.
	RespondToChallenge(ctx context.Context, resp ChallengeResponse) (*Resolved, error)

	// Register creates a provider-side account and returns its user id.
	Register(ctx context.Context, username, password, email string) (string, error)

	// InitiatePasswordReset asks the provider to send a reset code. The
	// returned message never reveals whether the account exists.
	InitiatePasswordReset(ctx context.Context, username string) (string, error)

	// ConfirmPasswordReset completes a reset with the delivered code.
	ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error
}
