package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies provider failures into the gateway's internal taxonomy.
// Every kind maps to a stable user-facing message and an HTTP status; the
// raw provider error never crosses the HTTP boundary.
type Kind int

const (
	// KindUnknown covers anything the adapter could not classify.
	KindUnknown Kind = iota

	// KindBadCredentials covers both a wrong password and an unknown user.
	// The two must be indistinguishable to the client.
	KindBadCredentials

	// KindUserNotConfirmed means the account exists but is unverified.
	KindUserNotConfirmed

	// KindResetRequired means the provider is forcing a password reset.
	KindResetRequired

	// KindRateLimited means the provider throttled the request.
	KindRateLimited

	// KindBadParameters means the request shape was rejected.
	KindBadParameters

	// KindPasswordPolicy means the password does not satisfy policy.
	KindPasswordPolicy

	// KindDuplicateUser means an account with that username already exists.
	KindDuplicateUser

	// KindCodeMismatch means a wrong confirmation code.
	KindCodeMismatch

	// KindCodeExpired means the confirmation code is no longer valid.
	KindCodeExpired

	// KindUnsupportedChallenge means the provider demanded a challenge the
	// gateway does not handle.
	KindUnsupportedChallenge

	// KindUnavailable covers transport and configuration failures,
	// including timeouts. Never conflated with credential failure.
	KindUnavailable
)

// Error is a classified provider failure. Name preserves the provider's own
// error identifier for server-side logging.
type Error struct {
	Kind Kind
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("provider error %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind Kind, name string, err error) *Error {
	return &Error{Kind: kind, Name: name, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// Message returns the stable user-facing message for the kind. Messages for
// credential failures never leak whether the account exists.
func (k Kind) Message() string {
	switch k {
	case KindBadCredentials:
		return "Incorrect username or password. Please try again."
	case KindUserNotConfirmed:
		return "Account not verified. Please check your email for verification instructions."
	case KindResetRequired:
		return "Password reset required. Please use the \"Forgot password?\" option."
	case KindRateLimited:
		return "Too many attempts. Please try again later."
	case KindBadParameters:
		return "Invalid login parameters. Please check your input and try again."
	case KindPasswordPolicy:
		return "Password does not meet requirements. Please choose a stronger password."
	case KindDuplicateUser:
		return "An account with this email already exists."
	case KindCodeMismatch:
		return "Invalid verification code. Please try again."
	case KindCodeExpired:
		return "Verification code has expired. Please request a new code."
	case KindUnsupportedChallenge:
		return "Unsupported authentication challenge."
	default:
		return "Authentication failed. Please try again or contact support."
	}
}

// Status returns the HTTP status class for the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadCredentials, KindUserNotConfirmed, KindResetRequired:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBadParameters, KindPasswordPolicy, KindCodeMismatch, KindCodeExpired, KindUnsupportedChallenge:
		return http.StatusBadRequest
	case KindDuplicateUser:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
