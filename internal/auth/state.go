package auth

// StateKind names the position of a single login attempt in the
// authentication flow.
type StateKind int

const (
	// StateUnauthenticated is both the initial state and the terminal
	// state for a failed attempt.
	StateUnauthenticated StateKind = iota

	// StateAuthenticating marks a request in flight to the provider.
	StateAuthenticating

	// StateNewPasswordRequired means the provider demanded a forced
	// password change before issuing credentials.
	StateNewPasswordRequired

	// StateAuthenticated is the terminal success state.
	StateAuthenticated
)

func (k StateKind) String() string {
	switch k {
	case StateAuthenticating:
		return "authenticating"
	case StateNewPasswordRequired:
		return "new_password_required"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// State is the tagged union describing where a login attempt stands. It is
// passed through arguments and return values, never held as ambient mutable
// fields; across requests the challenge fields are carried by the client and
// reconstructed, so no server instance affinity is required.
type State struct {
	Kind StateKind

	// Set when Kind == StateNewPasswordRequired.
	Username        string
	ProviderSession string
	ChallengeParams map[string]string

	// Set when Kind == StateAuthenticated.
	Email string
}

// Unauthenticated returns the initial state.
func Unauthenticated() State {
	return State{Kind: StateUnauthenticated}
}

// NewPasswordRequired returns the state carrying a pending forced-password-
// change challenge.
func NewPasswordRequired(username, providerSession string, params map[string]string) State {
	return State{
		Kind:            StateNewPasswordRequired,
		Username:        username,
		ProviderSession: providerSession,
		ChallengeParams: params,
	}
}

// Authenticated returns the terminal success state.
func Authenticated(email string) State {
	return State{Kind: StateAuthenticated, Email: email}
}
