package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// identityFromTokens extracts the user id and email from the provider's ID
// token. The token arrived directly from the provider over TLS, so its
// claims are read without signature verification; the gateway is not a
// resource server. Falls back to the username when claims are absent.
func identityFromTokens(username, idToken string) (userID, email string) {
	userID, email = username, username

	if idToken == "" {
		return userID, email
	}

	token, _, err := jwt.NewParser().ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		log.Debug().Err(err).Msg("Could not parse ID token claims")
		return userID, email
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return userID, email
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		userID = sub
	}
	if mail, ok := claims["email"].(string); ok && mail != "" {
		email = mail
	}

	return userID, email
}
