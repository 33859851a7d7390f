package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authgate/internal/auth"
	"github.com/wolfeidau/authgate/internal/csrf"
	"github.com/wolfeidau/authgate/internal/models"
	"github.com/wolfeidau/authgate/internal/provider"
	"github.com/wolfeidau/authgate/internal/store/memory"
)

// fakeProvider implements provider.IdentityProvider with canned outcomes and
// call counters.
type fakeProvider struct {
	authenticateOutcome *provider.Outcome
	authenticateErr     error
	authenticateN       int

	respondResolved *provider.Resolved
	respondErr      error
	respondN        int

	registerSub string
	registerErr error

	resetMsg   string
	resetErr   error
	confirmErr error
}

func (f *fakeProvider) Authenticate(ctx context.Context, username, password string) (*provider.Outcome, error) {
	f.authenticateN++
	return f.authenticateOutcome, f.authenticateErr
}

func (f *fakeProvider) RespondToChallenge(ctx context.Context, resp provider.ChallengeResponse) (*provider.Resolved, error) {
	f.respondN++
	return f.respondResolved, f.respondErr
}

func (f *fakeProvider) Register(ctx context.Context, username, password, email string) (string, error) {
	return f.registerSub, f.registerErr
}

func (f *fakeProvider) InitiatePasswordReset(ctx context.Context, username string) (string, error) {
	return f.resetMsg, f.resetErr
}

func (f *fakeProvider) ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error {
	return f.confirmErr
}

func resolvedFor(username string) *provider.Resolved {
	return &provider.Resolved{
		Username:  username,
		Tokens:    models.ProviderTokens{AccessToken: "access", RefreshToken: "refresh"},
		ExpiresIn: 1200 * time.Second,
	}
}

func newTestServer(t *testing.T, idp provider.IdentityProvider) (http.Handler, *memory.SessionStore) {
	t.Helper()
	sessions := memory.NewSessionStore()
	orchestrator, err := auth.New(sessions, idp)
	require.NoError(t, err)

	srv := NewServer(orchestrator, Config{CORSOrigins: []string{"https://localhost"}})
	return srv.Handler(zerolog.Nop()), sessions
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// issueCSRF drives GET /api/login and returns the issued token plus its cookie.
func issueCSRF(t *testing.T, handler http.Handler) (string, *http.Cookie) {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/login", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	token, ok := body["csrfToken"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrf.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, token, cookie.Value)
	require.True(t, cookie.HttpOnly)
	return token, cookie
}

func TestHealth(t *testing.T) {
	handler, _ := newTestServer(t, &fakeProvider{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLoginPageIssuesCSRFToken(t *testing.T) {
	handler, _ := newTestServer(t, &fakeProvider{})

	token, cookie := issueCSRF(t, handler)
	require.NotEmpty(t, token)
	require.InDelta(t, int(csrf.TokenTTL.Seconds()), cookie.MaxAge, 1)
}

func TestLoginMissingCSRFToken(t *testing.T) {
	idp := &fakeProvider{authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("alice")}}
	handler, _ := newTestServer(t, idp)

	w := postJSON(t, handler, "/api/login", loginRequest{Username: "alice", Password: "secret"})

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, codeMissingCSRF, decodeBody(t, w)["code"])
	require.Zero(t, idp.authenticateN)
}

func TestLoginInvalidCSRFToken(t *testing.T) {
	idp := &fakeProvider{authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("alice")}}
	handler, _ := newTestServer(t, idp)

	_, cookie := issueCSRF(t, handler)
	w := postJSON(t, handler, "/api/login",
		loginRequest{Username: "alice", Password: "secret", CSRFToken: "forged"}, cookie)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, codeInvalidCSRF, decodeBody(t, w)["code"])
	require.Zero(t, idp.authenticateN)
}

func TestLoginSuccess(t *testing.T) {
	idp := &fakeProvider{authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("alice")}}
	handler, sessions := newTestServer(t, idp)

	token, cookie := issueCSRF(t, handler)
	w := postJSON(t, handler, "/api/login",
		loginRequest{Username: "alice", Password: "secret", CSRFToken: token}, cookie)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])

	sessionToken, ok := body["session"].(string)
	require.True(t, ok)
	stored, err := sessions.Get(context.Background(), sessionToken)
	require.NoError(t, err)
	require.Equal(t, "alice", stored.UserID)

	// CSRF cookie is cleared once the session exists.
	var cleared *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrf.CookieName {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)
}

func TestLoginAcceptsHeaderToken(t *testing.T) {
	idp := &fakeProvider{authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("alice")}}
	handler, _ := newTestServer(t, idp)

	token, cookie := issueCSRF(t, handler)

	buf, err := json.Marshal(loginRequest{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(buf))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(csrf.HeaderName, token)
	r.AddCookie(cookie)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["success"])
}

func TestLoginUnknownUserLooksLikeWrongPassword(t *testing.T) {
	bodies := make([]string, 0, 2)
	for _, name := range []string{"UserNotFoundException", "NotAuthorizedException"} {
		idp := &fakeProvider{
			authenticateErr: provider.NewError(provider.KindBadCredentials, name, fmt.Errorf("denied")),
		}
		handler, _ := newTestServer(t, idp)

		token, cookie := issueCSRF(t, handler)
		w := postJSON(t, handler, "/api/login",
			loginRequest{Username: "alice", Password: "secret", CSRFToken: token}, cookie)

		require.Equal(t, http.StatusUnauthorized, w.Code)
		bodies = append(bodies, w.Body.String())
	}

	// The two failure causes must be indistinguishable on the wire.
	require.Equal(t, bodies[0], bodies[1])
}

func TestLoginProviderOutageNotCredentialFailure(t *testing.T) {
	idp := &fakeProvider{
		authenticateErr: provider.NewError(provider.KindUnavailable, "", fmt.Errorf("dial timeout")),
	}
	handler, _ := newTestServer(t, idp)

	token, cookie := issueCSRF(t, handler)
	w := postJSON(t, handler, "/api/login",
		loginRequest{Username: "alice", Password: "secret", CSRFToken: token}, cookie)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "Incorrect username or password")
}

func TestChallengeFlow(t *testing.T) {
	idp := &fakeProvider{
		authenticateOutcome: &provider.Outcome{
			Challenge: &provider.Challenge{
				Name:    provider.ChallengeNewPasswordRequired,
				Session: "challenge-handle",
				Params:  map[string]string{"userAttributes": "{}"},
			},
		},
		respondResolved: resolvedFor("alice"),
	}
	handler, sessions := newTestServer(t, idp)

	token, cookie := issueCSRF(t, handler)
	w := postJSON(t, handler, "/api/login",
		loginRequest{Username: "alice", Password: "temporary", CSRFToken: token}, cookie)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Equal(t, provider.ChallengeNewPasswordRequired, body["challengeName"])
	require.Equal(t, "challenge-handle", body["session"])
	require.NotContains(t, body, "sessionToken")

	w = postJSON(t, handler, "/api/challenge", challengeRequest{
		ChallengeName: provider.ChallengeNewPasswordRequired,
		Username:      "alice",
		Session:       "challenge-handle",
		NewPassword:   "S3cure-new-password",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	sessionToken, ok := body["session"].(string)
	require.True(t, ok)

	_, err := sessions.Get(context.Background(), sessionToken)
	require.NoError(t, err)
	require.Equal(t, 1, idp.respondN)
}

func TestChallengeUnsupportedNameSkipsProvider(t *testing.T) {
	idp := &fakeProvider{respondResolved: resolvedFor("alice")}
	handler, _ := newTestServer(t, idp)

	w := postJSON(t, handler, "/api/challenge", challengeRequest{
		ChallengeName: "SMS_MFA",
		Username:      "alice",
		Session:       "challenge-handle",
		NewPassword:   "S3cure-new-password",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, idp.respondN)
}

func TestRegisterLogsStraightIn(t *testing.T) {
	idp := &fakeProvider{
		registerSub:         "sub-123",
		authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("bob")},
	}
	handler, _ := newTestServer(t, idp)

	w := postJSON(t, handler, "/api/register",
		registerRequest{Username: "bob", Email: "bob@example.com", Password: "secret"})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Equal(t, "sub-123", body["userSub"])
	require.NotEmpty(t, body["session"])
}

func TestRegisterDuplicateUser(t *testing.T) {
	idp := &fakeProvider{
		registerErr: provider.NewError(provider.KindDuplicateUser, "UsernameExistsException", fmt.Errorf("exists")),
	}
	handler, _ := newTestServer(t, idp)

	w := postJSON(t, handler, "/api/register",
		registerRequest{Username: "bob", Email: "bob@example.com", Password: "secret"})

	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, provider.KindDuplicateUser.Message(), decodeBody(t, w)["error"])
	require.Zero(t, idp.authenticateN)
}

func TestPasswordResetFlow(t *testing.T) {
	idp := &fakeProvider{resetMsg: "If an account exists, a reset code has been sent."}
	handler, _ := newTestServer(t, idp)

	w := postJSON(t, handler, "/api/password-reset/initiate", resetInitiateRequest{Username: "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, idp.resetMsg, decodeBody(t, w)["message"])

	w = postJSON(t, handler, "/api/password-reset/confirm", resetConfirmRequest{
		Username:         "alice",
		ConfirmationCode: "123456",
		NewPassword:      "S3cure-new-password",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["success"])
}

func TestPasswordResetRateLimited(t *testing.T) {
	idp := &fakeProvider{
		resetErr: provider.NewError(provider.KindRateLimited, "LimitExceededException", fmt.Errorf("slow down")),
	}
	handler, _ := newTestServer(t, idp)

	w := postJSON(t, handler, "/api/password-reset/initiate", resetInitiateRequest{Username: "alice"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestVerifySession(t *testing.T) {
	idp := &fakeProvider{authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("alice")}}
	handler, _ := newTestServer(t, idp)

	token, cookie := issueCSRF(t, handler)
	w := postJSON(t, handler, "/api/login",
		loginRequest{Username: "alice", Password: "secret", CSRFToken: token}, cookie)
	sessionToken := decodeBody(t, w)["session"].(string)

	w = postJSON(t, handler, "/api/verify", sessionRequest{Session: sessionToken})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["valid"])

	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "alice", user["id"])
}

// failingStore wraps the memory store with a Get that always fails the way
// an unreachable database would.
type failingStore struct {
	*memory.SessionStore
}

func (f *failingStore) Get(ctx context.Context, token string) (*models.Session, error) {
	return nil, fmt.Errorf("failed to get session: connection refused")
}

func TestVerifyStoreFailureIsNotInvalidSession(t *testing.T) {
	sessions := &failingStore{memory.NewSessionStore()}
	orchestrator, err := auth.New(sessions, &fakeProvider{})
	require.NoError(t, err)
	handler := NewServer(orchestrator, Config{}).Handler(zerolog.Nop())

	w := postJSON(t, handler, "/api/verify", sessionRequest{Session: "held-by-client"})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	require.NotContains(t, body, "valid")
	require.NotEqual(t, "Invalid or expired session", body["error"])
}

func TestVerifyInvalidSession(t *testing.T) {
	handler, _ := newTestServer(t, &fakeProvider{})

	w := postJSON(t, handler, "/api/verify", sessionRequest{Session: "nope"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, false, decodeBody(t, w)["valid"])
}

func TestLogoutDeletesSession(t *testing.T) {
	idp := &fakeProvider{authenticateOutcome: &provider.Outcome{Resolved: resolvedFor("alice")}}
	handler, sessions := newTestServer(t, idp)

	token, cookie := issueCSRF(t, handler)
	w := postJSON(t, handler, "/api/login",
		loginRequest{Username: "alice", Password: "secret", CSRFToken: token}, cookie)
	sessionToken := decodeBody(t, w)["session"].(string)

	w = postJSON(t, handler, "/api/logout", sessionRequest{Session: sessionToken})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["success"])

	_, err := sessions.Get(context.Background(), sessionToken)
	require.Error(t, err)

	// Logging out twice is still a success.
	w = postJSON(t, handler, "/api/logout", sessionRequest{Session: sessionToken})
	require.Equal(t, http.StatusOK, w.Code)
}
