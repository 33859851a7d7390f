package cognito

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/wolfeidau/authgate/internal/provider"
)

// classifyError maps a Cognito call failure into the gateway's error
// taxonomy. Provider exceptions are string-named; anything that is not an
// API-level error (transport failure, timeout, missing config) is treated as
// the provider being unavailable, never as a credential failure.
func classifyError(err error) *provider.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provider.NewError(provider.KindUnavailable, "", err)
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return provider.NewError(provider.KindUnavailable, "", err)
	}

	name := apiErr.ErrorCode()
	switch name {
	case "NotAuthorizedException", "UserNotFoundException":
		// Unknown user and wrong password are deliberately the same kind so
		// the client cannot enumerate accounts.
		return provider.NewError(provider.KindBadCredentials, name, err)

	case "UserNotConfirmedException":
		return provider.NewError(provider.KindUserNotConfirmed, name, err)

	case "PasswordResetRequiredException":
		return provider.NewError(provider.KindResetRequired, name, err)

	case "TooManyRequestsException", "LimitExceededException":
		return provider.NewError(provider.KindRateLimited, name, err)

	case "InvalidParameterException":
		return provider.NewError(provider.KindBadParameters, name, err)

	case "InvalidPasswordException":
		return provider.NewError(provider.KindPasswordPolicy, name, err)

	case "UsernameExistsException":
		return provider.NewError(provider.KindDuplicateUser, name, err)

	case "CodeMismatchException":
		return provider.NewError(provider.KindCodeMismatch, name, err)

	case "ExpiredCodeException":
		return provider.NewError(provider.KindCodeExpired, name, err)

	default:
		return provider.NewError(provider.KindUnknown, name, err)
	}
}
