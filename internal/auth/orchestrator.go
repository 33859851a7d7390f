// Package auth drives the login, challenge, registration and reset flows,
// turning provider outcomes into server-side sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authgate/internal/models"
	"github.com/wolfeidau/authgate/internal/provider"
	"github.com/wolfeidau/authgate/internal/store"
)

// ErrInvalidState is returned when an operation is invoked from a state it
// is not valid in, e.g. submitting a new password without a pending
// challenge. The provider is never contacted in that case.
var ErrInvalidState = errors.New("invalid authentication state")

// DefaultSessionTTL is used when the provider does not report how long its
// credentials are good for.
const DefaultSessionTTL = 1200 * time.Second

// RequestMeta carries per-request audit metadata into session records.
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

// Result is the outcome of a login-shaped operation: either an established
// session or a pending challenge, never both.
type Result struct {
	// SessionToken is set when the attempt ended authenticated.
	SessionToken string

	// Challenge is set when the provider demanded an extra step.
	Challenge *provider.Challenge
}

// Orchestrator owns the authentication state machine. It is stateless
// between requests; everything durable lives in the session store and
// everything transient is carried in State values.
type Orchestrator struct {
	sessions   store.SessionStore
	idp        provider.IdentityProvider
	sessionTTL time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionTTL overrides the fallback session TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.sessionTTL = ttl
	}
}

// New creates an Orchestrator.
func New(sessions store.SessionStore, idp provider.IdentityProvider, options ...Option) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if idp == nil {
		return nil, errors.New("identity provider is required")
	}

	o := &Orchestrator{
		sessions:   sessions,
		idp:        idp,
		sessionTTL: DefaultSessionTTL,
	}

	for _, opt := range options {
		opt(o)
	}

	return o, nil
}

// Login checks the credentials with the provider. The HTTP boundary has
// already verified the CSRF token before this is called; no provider call is
// ever issued for a forged request.
//
// Returns the resulting state plus a Result: a session token on a resolved
// outcome, or the challenge to relay when the provider demands a step.
func (o *Orchestrator) Login(ctx context.Context, username, password string, meta RequestMeta) (State, *Result, error) {
	// StateAuthenticating lives only for the duration of this call.
	outcome, err := o.idp.Authenticate(ctx, username, password)
	if err != nil {
		log.Warn().Str("username", username).Err(err).Msg("Authentication failed")
		return Unauthenticated(), nil, fmt.Errorf("authenticate: %w", err)
	}

	if outcome.IsChallenge() {
		ch := outcome.Challenge
		log.Info().
			Str("username", username).
			Str("challenge", ch.Name).
			Msg("Login requires challenge")
		return NewPasswordRequired(username, ch.Session, ch.Params), &Result{Challenge: ch}, nil
	}

	return o.establishSession(ctx, outcome.Resolved, meta)
}

// SubmitNewPassword completes a pending forced-password-change challenge.
// Valid only from StateNewPasswordRequired; any other state is rejected
// without contacting the provider.
func (o *Orchestrator) SubmitNewPassword(ctx context.Context, st State, newPassword string, meta RequestMeta) (State, *Result, error) {
	if st.Kind != StateNewPasswordRequired {
		return st, nil, fmt.Errorf("%w: submit new password from %s", ErrInvalidState, st.Kind)
	}

	resolved, err := o.idp.RespondToChallenge(ctx, provider.ChallengeResponse{
		ChallengeName: provider.ChallengeNewPasswordRequired,
		Username:      st.Username,
		Session:       st.ProviderSession,
		NewPassword:   newPassword,
	})
	if err != nil {
		log.Warn().Str("username", st.Username).Err(err).Msg("Challenge response failed")
		return Unauthenticated(), nil, fmt.Errorf("respond to challenge: %w", err)
	}

	return o.establishSession(ctx, resolved, meta)
}

// Register creates the account with the provider and, on success, logs the
// new user straight in so registration always ends either authenticated or
// with a clearly reported login failure.
func (o *Orchestrator) Register(ctx context.Context, username, password, email string, meta RequestMeta) (State, string, *Result, error) {
	userSub, err := o.idp.Register(ctx, username, password, email)
	if err != nil {
		log.Warn().Str("username", username).Err(err).Msg("Registration failed")
		return Unauthenticated(), "", nil, fmt.Errorf("register: %w", err)
	}

	log.Info().Str("username", username).Str("user_sub", userSub).Msg("Registered user")

	st, result, err := o.Login(ctx, username, password, meta)
	if err != nil {
		return st, userSub, nil, err
	}

	return st, userSub, result, nil
}

// InitiatePasswordReset relays the reset request to the provider. The
// returned message never reveals whether the account exists.
func (o *Orchestrator) InitiatePasswordReset(ctx context.Context, username string) (string, error) {
	msg, err := o.idp.InitiatePasswordReset(ctx, username)
	if err != nil {
		return "", fmt.Errorf("initiate password reset: %w", err)
	}
	return msg, nil
}

// ConfirmPasswordReset completes a reset with the delivered code.
func (o *Orchestrator) ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error {
	if err := o.idp.ConfirmPasswordReset(ctx, username, code, newPassword); err != nil {
		return fmt.Errorf("confirm password reset: %w", err)
	}
	return nil
}

// VerifySession resolves a session token to its identity. Absent and
// expired sessions are both reported as store.ErrSessionNotFound so callers
// cannot tell the difference.
func (o *Orchestrator) VerifySession(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, store.ErrSessionNotFound
	}

	session, err := o.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrSessionExpired) {
			return nil, store.ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// Logout deletes the session. Best-effort: a token that never existed or
// was already deleted is not an error.
func (o *Orchestrator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	removed, err := o.sessions.Delete(ctx, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if removed {
		log.Info().Msg("Session ended")
	}

	return nil
}

// establishSession turns a resolved provider outcome into a session row.
// Store failure is a hard failure of authentication.
func (o *Orchestrator) establishSession(ctx context.Context, resolved *provider.Resolved, meta RequestMeta) (State, *Result, error) {
	ttl := resolved.ExpiresIn
	if ttl <= 0 {
		ttl = o.sessionTTL
	}

	userID, email := identityFromTokens(resolved.Username, resolved.Tokens.IDToken)

	session, err := o.sessions.Create(ctx, store.CreateSession{
		UserID:         userID,
		Email:          email,
		ProviderTokens: resolved.Tokens,
		TTL:            ttl,
		UserAgent:      meta.UserAgent,
		IPAddress:      meta.IPAddress,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		return Unauthenticated(), nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Time("expires_at", session.ExpiresAt).
		Msg("Session established")

	return Authenticated(email), &Result{SessionToken: session.Token}, nil
}
