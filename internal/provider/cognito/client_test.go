package cognito

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authgate/internal/provider"
)

// fakeAPI implements API with canned responses per call.
type fakeAPI struct {
	initiateAuthOut *cognitoidentityprovider.AdminInitiateAuthOutput
	initiateAuthErr error

	respondOut *cognitoidentityprovider.AdminRespondToAuthChallengeOutput
	respondErr error
	respondN   int

	createOut *cognitoidentityprovider.AdminCreateUserOutput
	createErr error

	setPasswordErr error

	forgotErr  error
	confirmErr error
}

func (f *fakeAPI) AdminInitiateAuth(ctx context.Context, params *cognitoidentityprovider.AdminInitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminInitiateAuthOutput, error) {
	return f.initiateAuthOut, f.initiateAuthErr
}

func (f *fakeAPI) AdminRespondToAuthChallenge(ctx context.Context, params *cognitoidentityprovider.AdminRespondToAuthChallengeInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminRespondToAuthChallengeOutput, error) {
	f.respondN++
	return f.respondOut, f.respondErr
}

func (f *fakeAPI) AdminCreateUser(ctx context.Context, params *cognitoidentityprovider.AdminCreateUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminCreateUserOutput, error) {
	return f.createOut, f.createErr
}

func (f *fakeAPI) AdminSetUserPassword(ctx context.Context, params *cognitoidentityprovider.AdminSetUserPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminSetUserPasswordOutput, error) {
	return &cognitoidentityprovider.AdminSetUserPasswordOutput{}, f.setPasswordErr
}

func (f *fakeAPI) ForgotPassword(ctx context.Context, params *cognitoidentityprovider.ForgotPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ForgotPasswordOutput, error) {
	return &cognitoidentityprovider.ForgotPasswordOutput{}, f.forgotErr
}

func (f *fakeAPI) ConfirmForgotPassword(ctx context.Context, params *cognitoidentityprovider.ConfirmForgotPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error) {
	return &cognitoidentityprovider.ConfirmForgotPasswordOutput{}, f.confirmErr
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func newTestProvider(api API) *Provider {
	return NewWithClients(api, newStaticSecret("test-secret"), Config{
		UserPoolID:   "pool",
		ClientID:     "client",
		ClientSecret: "test-secret",
	})
}

func TestAuthenticateResolved(t *testing.T) {
	api := &fakeAPI{
		initiateAuthOut: &cognitoidentityprovider.AdminInitiateAuthOutput{
			AuthenticationResult: &types.AuthenticationResultType{
				AccessToken:  aws.String("access"),
				IdToken:      aws.String("id"),
				RefreshToken: aws.String("refresh"),
				ExpiresIn:    1200,
			},
		},
	}

	outcome, err := newTestProvider(api).Authenticate(context.Background(), "alice", "password")
	require.NoError(t, err)
	require.False(t, outcome.IsChallenge())
	require.Equal(t, "alice", outcome.Resolved.Username)
	require.Equal(t, "access", outcome.Resolved.Tokens.AccessToken)
	require.Equal(t, int64(1200), int64(outcome.Resolved.ExpiresIn.Seconds()))
}

func TestAuthenticateChallenge(t *testing.T) {
	api := &fakeAPI{
		initiateAuthOut: &cognitoidentityprovider.AdminInitiateAuthOutput{
			ChallengeName:       types.ChallengeNameTypeNewPasswordRequired,
			Session:             aws.String("sess-xyz"),
			ChallengeParameters: map[string]string{"userAttributes": "{}"},
		},
	}

	outcome, err := newTestProvider(api).Authenticate(context.Background(), "bob", "TempPass123")
	require.NoError(t, err)
	require.True(t, outcome.IsChallenge())
	require.Equal(t, provider.ChallengeNewPasswordRequired, outcome.Challenge.Name)
	require.Equal(t, "sess-xyz", outcome.Challenge.Session)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	for _, code := range []string{"NotAuthorizedException", "UserNotFoundException"} {
		api := &fakeAPI{initiateAuthErr: apiError(code)}

		_, err := newTestProvider(api).Authenticate(context.Background(), "alice", "wrong")
		require.Error(t, err)
		require.Equal(t, provider.KindBadCredentials, provider.KindOf(err))
	}
}

func TestAuthenticateTransportFailure(t *testing.T) {
	api := &fakeAPI{initiateAuthErr: errors.New("dial tcp: connection refused")}

	_, err := newTestProvider(api).Authenticate(context.Background(), "alice", "password")
	require.Error(t, err)
	require.Equal(t, provider.KindUnavailable, provider.KindOf(err))
}

func TestRespondToChallengeUnsupportedSkipsProvider(t *testing.T) {
	api := &fakeAPI{}

	_, err := newTestProvider(api).RespondToChallenge(context.Background(), provider.ChallengeResponse{
		ChallengeName: "SMS_MFA",
		Username:      "bob",
		Session:       "sess-xyz",
	})
	require.Error(t, err)
	require.Equal(t, provider.KindUnsupportedChallenge, provider.KindOf(err))
	require.Zero(t, api.respondN)
}

func TestRespondToChallengeResolved(t *testing.T) {
	api := &fakeAPI{
		respondOut: &cognitoidentityprovider.AdminRespondToAuthChallengeOutput{
			AuthenticationResult: &types.AuthenticationResultType{
				AccessToken:  aws.String("access"),
				IdToken:      aws.String("id"),
				RefreshToken: aws.String("refresh"),
				ExpiresIn:    1200,
			},
		},
	}

	resolved, err := newTestProvider(api).RespondToChallenge(context.Background(), provider.ChallengeResponse{
		ChallengeName: provider.ChallengeNewPasswordRequired,
		Username:      "bob",
		Session:       "sess-xyz",
		NewPassword:   "NewStrongPass1!",
	})
	require.NoError(t, err)
	require.Equal(t, "bob", resolved.Username)
	require.Equal(t, 1, api.respondN)
}

func TestRegisterDuplicateUser(t *testing.T) {
	api := &fakeAPI{createErr: apiError("UsernameExistsException")}

	_, err := newTestProvider(api).Register(context.Background(), "carol@x.com", "pw", "carol@x.com")
	require.Error(t, err)
	require.Equal(t, provider.KindDuplicateUser, provider.KindOf(err))
}

func TestRegisterReturnsUserSub(t *testing.T) {
	api := &fakeAPI{
		createOut: &cognitoidentityprovider.AdminCreateUserOutput{
			User: &types.UserType{
				Username: aws.String("carol@x.com"),
				Attributes: []types.AttributeType{
					{Name: aws.String("email"), Value: aws.String("carol@x.com")},
					{Name: aws.String("sub"), Value: aws.String("sub-123")},
				},
			},
		},
	}

	sub, err := newTestProvider(api).Register(context.Background(), "carol@x.com", "pw", "carol@x.com")
	require.NoError(t, err)
	require.Equal(t, "sub-123", sub)
}

func TestRegisterFallsBackToUsername(t *testing.T) {
	// Pools without an email alias echo the username with no sub attribute.
	api := &fakeAPI{
		createOut: &cognitoidentityprovider.AdminCreateUserOutput{
			User: &types.UserType{Username: aws.String("carol@x.com")},
		},
	}

	sub, err := newTestProvider(api).Register(context.Background(), "carol@x.com", "pw", "carol@x.com")
	require.NoError(t, err)
	require.Equal(t, "carol@x.com", sub)
}

func TestInitiatePasswordResetHidesUnknownUser(t *testing.T) {
	api := &fakeAPI{forgotErr: apiError("UserNotFoundException")}

	msg, err := newTestProvider(api).InitiatePasswordReset(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	require.NotEmpty(t, msg)
}

func TestInitiatePasswordResetRateLimited(t *testing.T) {
	api := &fakeAPI{forgotErr: apiError("LimitExceededException")}

	_, err := newTestProvider(api).InitiatePasswordReset(context.Background(), "alice")
	require.Error(t, err)
	require.Equal(t, provider.KindRateLimited, provider.KindOf(err))
}

func TestConfirmPasswordResetCodeMismatch(t *testing.T) {
	api := &fakeAPI{confirmErr: apiError("CodeMismatchException")}

	err := newTestProvider(api).ConfirmPasswordReset(context.Background(), "alice", "000000", "NewStrongPass1!")
	require.Error(t, err)
	require.Equal(t, provider.KindCodeMismatch, provider.KindOf(err))
}

func TestSecretHash(t *testing.T) {
	// HMAC-SHA256("usernameclient-id", "secret"), base64.
	hash := secretHash("username", "client-id", "secret")
	require.NotEmpty(t, hash)
	require.Equal(t, hash, secretHash("username", "client-id", "secret"))
	require.NotEqual(t, hash, secretHash("username2", "client-id", "secret"))
}
