package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"
)

// SecretsAPI is the slice of the Secrets Manager client the adapter uses.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretCache fetches the app client secret from Secrets Manager once and
// holds it for the life of the process. A failed fetch is returned to the
// caller and retried on the next auth operation, never inline.
type secretCache struct {
	api        SecretsAPI
	secretName string

	mu     sync.Mutex
	secret string
}

func newSecretCache(api SecretsAPI, secretName string) *secretCache {
	return &secretCache{api: api, secretName: secretName}
}

// newStaticSecret returns a cache pre-seeded with a static secret, used for
// local development against cognito-local where there is no Secrets Manager.
func newStaticSecret(secret string) *secretCache {
	return &secretCache{secret: secret}
}

func (c *secretCache) get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secret != "" {
		return c.secret, nil
	}

	if c.api == nil || c.secretName == "" {
		return "", fmt.Errorf("client secret source is not configured")
	}

	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(c.secretName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve client secret: %w", err)
	}

	if out.SecretString == nil {
		return "", fmt.Errorf("client secret has no string value")
	}

	var payload struct {
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return "", fmt.Errorf("invalid client secret format: %w", err)
	}
	if payload.ClientSecret == "" {
		return "", fmt.Errorf("client secret payload is empty")
	}

	log.Info().Str("secret_name", c.secretName).Msg("Cached provider client secret")

	c.secret = payload.ClientSecret
	return c.secret, nil
}

// secretHash computes the keyed hash the provider protocol requires on every
// call: HMAC-SHA256(username + clientID) signed with the app client secret.
func secretHash(username, clientID, clientSecret string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
