// Package cognito adapts an AWS Cognito user pool to the gateway's
// provider.IdentityProvider interface.
package cognito

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authgate/internal/models"
	"github.com/wolfeidau/authgate/internal/provider"
)

const defaultCallTimeout = 10 * time.Second

// API is the slice of the Cognito identity provider client the adapter uses.
type API interface {
	AdminInitiateAuth(ctx context.Context, params *cognitoidentityprovider.AdminInitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminInitiateAuthOutput, error)
	AdminRespondToAuthChallenge(ctx context.Context, params *cognitoidentityprovider.AdminRespondToAuthChallengeInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminRespondToAuthChallengeOutput, error)
	AdminCreateUser(ctx context.Context, params *cognitoidentityprovider.AdminCreateUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminCreateUserOutput, error)
	AdminSetUserPassword(ctx context.Context, params *cognitoidentityprovider.AdminSetUserPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminSetUserPasswordOutput, error)
	ForgotPassword(ctx context.Context, params *cognitoidentityprovider.ForgotPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, params *cognitoidentityprovider.ConfirmForgotPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error)
}

// Config holds the user pool coordinates and connection settings.
type Config struct {
	Region     string
	UserPoolID string
	ClientID   string

	// SecretName is the Secrets Manager secret holding the app client
	// secret as JSON: {"clientSecret": "..."}.
	SecretName string

	// ClientSecret bypasses Secrets Manager when set. Development only.
	ClientSecret string

	// Endpoint overrides the Cognito endpoint (for cognito-local).
	Endpoint string

	// CallTimeout bounds each provider call. Default: 10s.
	CallTimeout time.Duration
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.UserPoolID == "" {
		return fmt.Errorf("user pool id is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.SecretName == "" && c.ClientSecret == "" {
		return fmt.Errorf("either a secret name or a static client secret is required")
	}
	return nil
}

// Provider implements provider.IdentityProvider against a Cognito user pool.
type Provider struct {
	api         API
	secrets     *secretCache
	userPoolID  string
	clientID    string
	callTimeout time.Duration
}

// New builds a Provider from configuration, constructing AWS clients with
// the default credential chain. An endpoint override switches to static
// development credentials, mirroring how a local stack is wired.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cognito config: %w", err)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := cognitoidentityprovider.NewFromConfig(awsCfg, func(o *cognitoidentityprovider.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	var secrets *secretCache
	if cfg.ClientSecret != "" {
		secrets = newStaticSecret(cfg.ClientSecret)
	} else {
		secrets = newSecretCache(secretsmanager.NewFromConfig(awsCfg), cfg.SecretName)
	}

	return NewWithClients(api, secrets, cfg), nil
}

// NewWithClients wires a Provider from pre-built clients. Used by New and by
// tests.
func NewWithClients(api API, secrets *secretCache, cfg Config) *Provider {
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	return &Provider{
		api:         api,
		secrets:     secrets,
		userPoolID:  cfg.UserPoolID,
		clientID:    cfg.ClientID,
		callTimeout: timeout,
	}
}

// Authenticate checks the credentials against the user pool.
func (p *Provider) Authenticate(ctx context.Context, username, password string) (*provider.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	clientSecret, err := p.secrets.get(ctx)
	if err != nil {
		return nil, provider.NewError(provider.KindUnavailable, "", err)
	}

	out, err := p.api.AdminInitiateAuth(ctx, &cognitoidentityprovider.AdminInitiateAuthInput{
		UserPoolId: aws.String(p.userPoolID),
		ClientId:   aws.String(p.clientID),
		AuthFlow:   types.AuthFlowTypeAdminUserPasswordAuth,
		AuthParameters: map[string]string{
			"USERNAME":    username,
			"PASSWORD":    password,
			"SECRET_HASH": secretHash(username, p.clientID, clientSecret),
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	if out.ChallengeName != "" {
		log.Info().
			Str("challenge", string(out.ChallengeName)).
			Msg("Provider demanded an authentication challenge")

		return &provider.Outcome{
			Challenge: &provider.Challenge{
				Name:    string(out.ChallengeName),
				Session: aws.ToString(out.Session),
				Params:  out.ChallengeParameters,
			},
		}, nil
	}

	if out.AuthenticationResult == nil {
		return nil, provider.NewError(provider.KindUnknown, "",
			fmt.Errorf("provider returned neither a result nor a challenge"))
	}

	return &provider.Outcome{
		Resolved: resolvedFromResult(username, out.AuthenticationResult),
	}, nil
}

// RespondToChallenge completes a challenge. Only the forced-password-change
// challenge is handled.
func (p *Provider) RespondToChallenge(ctx context.Context, resp provider.ChallengeResponse) (*provider.Resolved, error) {
	if resp.ChallengeName != provider.ChallengeNewPasswordRequired {
		return nil, provider.NewError(provider.KindUnsupportedChallenge, "",
			fmt.Errorf("unsupported challenge type: %s", resp.ChallengeName))
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	clientSecret, err := p.secrets.get(ctx)
	if err != nil {
		return nil, provider.NewError(provider.KindUnavailable, "", err)
	}

	out, err := p.api.AdminRespondToAuthChallenge(ctx, &cognitoidentityprovider.AdminRespondToAuthChallengeInput{
		UserPoolId:    aws.String(p.userPoolID),
		ClientId:      aws.String(p.clientID),
		ChallengeName: types.ChallengeNameTypeNewPasswordRequired,
		Session:       aws.String(resp.Session),
		ChallengeResponses: map[string]string{
			"USERNAME":     resp.Username,
			"NEW_PASSWORD": resp.NewPassword,
			"SECRET_HASH":  secretHash(resp.Username, p.clientID, clientSecret),
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	if out.AuthenticationResult == nil {
		return nil, provider.NewError(provider.KindUnknown, "",
			fmt.Errorf("challenge response returned no result"))
	}

	return resolvedFromResult(resp.Username, out.AuthenticationResult), nil
}

// Register creates a provider-side account with a verified email and the
// requested password set as permanent.
func (p *Provider) Register(ctx context.Context, username, password, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	tempPassword, err := temporaryPassword()
	if err != nil {
		return "", provider.NewError(provider.KindUnavailable, "", err)
	}

	created, err := p.api.AdminCreateUser(ctx, &cognitoidentityprovider.AdminCreateUserInput{
		UserPoolId:        aws.String(p.userPoolID),
		Username:          aws.String(username),
		MessageAction:     types.MessageActionTypeSuppress,
		TemporaryPassword: aws.String(tempPassword),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
			{Name: aws.String("email_verified"), Value: aws.String("true")},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if created.User == nil {
		return "", provider.NewError(provider.KindUnknown, "",
			fmt.Errorf("provider did not return the created user"))
	}

	// The Username echo is not the user id on non-alias pools; the sub
	// attribute is the canonical id.
	userSub := aws.ToString(created.User.Username)
	for _, attr := range created.User.Attributes {
		if aws.ToString(attr.Name) == "sub" {
			userSub = aws.ToString(attr.Value)
		}
	}
	if userSub == "" {
		return "", provider.NewError(provider.KindUnknown, "",
			fmt.Errorf("provider did not return the created user"))
	}

	_, err = p.api.AdminSetUserPassword(ctx, &cognitoidentityprovider.AdminSetUserPasswordInput{
		UserPoolId: aws.String(p.userPoolID),
		Username:   aws.String(username),
		Password:   aws.String(password),
		Permanent:  true,
	})
	if err != nil {
		return "", classifyError(err)
	}

	return userSub, nil
}

// InitiatePasswordReset asks the provider to deliver a reset code. An
// unknown username still reports success so accounts cannot be enumerated;
// only rate limiting is reported distinctly.
func (p *Provider) InitiatePasswordReset(ctx context.Context, username string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	clientSecret, err := p.secrets.get(ctx)
	if err != nil {
		return "", provider.NewError(provider.KindUnavailable, "", err)
	}

	_, err = p.api.ForgotPassword(ctx, &cognitoidentityprovider.ForgotPasswordInput{
		ClientId:   aws.String(p.clientID),
		Username:   aws.String(username),
		SecretHash: aws.String(secretHash(username, p.clientID, clientSecret)),
	})
	if err != nil {
		perr := classifyError(err)
		if perr.Kind == provider.KindBadCredentials {
			log.Debug().Msg("Password reset requested for unknown user")
			return "If the account exists, a password reset code has been sent", nil
		}
		return "", perr
	}

	return "Password reset code has been sent to your email", nil
}

// ConfirmPasswordReset completes a reset with the delivered code.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	clientSecret, err := p.secrets.get(ctx)
	if err != nil {
		return provider.NewError(provider.KindUnavailable, "", err)
	}

	_, err = p.api.ConfirmForgotPassword(ctx, &cognitoidentityprovider.ConfirmForgotPasswordInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
		SecretHash:       aws.String(secretHash(username, p.clientID, clientSecret)),
	})
	if err != nil {
		return classifyError(err)
	}

	return nil
}

func resolvedFromResult(username string, result *types.AuthenticationResultType) *provider.Resolved {
	expiresIn := time.Duration(result.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}

	return &provider.Resolved{
		Username: username,
		Tokens: models.ProviderTokens{
			AccessToken:  aws.ToString(result.AccessToken),
			IDToken:      aws.ToString(result.IdToken),
			RefreshToken: aws.ToString(result.RefreshToken),
		},
		ExpiresIn: expiresIn,
	}
}

func temporaryPassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	// Mixed-case suffix keeps the throwaway password inside typical pool
	// policies; it is replaced immediately by AdminSetUserPassword.
	return "Tmp1!" + hex.EncodeToString(buf), nil
}
