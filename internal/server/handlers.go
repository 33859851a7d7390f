package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authgate/internal/auth"
	"github.com/wolfeidau/authgate/internal/csrf"
	"github.com/wolfeidau/authgate/internal/provider"
	"github.com/wolfeidau/authgate/internal/store"
)

const (
	codeMissingCSRF = "MISSING_CSRF"
	codeInvalidCSRF = "INVALID_CSRF"
)

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	CSRFToken string `json:"csrfToken"`
}

type challengeRequest struct {
	ChallengeName string `json:"challengeName"`
	Username      string `json:"username"`
	Session       string `json:"session"`
	NewPassword   string `json:"newPassword"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetInitiateRequest struct {
	Username string `json:"username"`
}

type resetConfirmRequest struct {
	Username         string `json:"username"`
	ConfirmationCode string `json:"confirmationCode"`
	NewPassword      string `json:"newPassword"`
}

type sessionRequest struct {
	Session string `json:"session"`
}

// handleLoginPage issues a fresh CSRF token. The token is double-submitted:
// once in the protected cookie set here, once echoed by the client in the
// login request body or header.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	token, err := csrf.Issue()
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to issue CSRF token")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": provider.KindUnknown.Message(),
		})
		return
	}

	s.setCSRFCookie(w, token, int(csrf.TokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, map[string]any{"csrfToken": token})
}

// handleLogin verifies the CSRF token before anything else; a forged request
// never reaches the identity provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if !s.verifyCSRF(w, r, req.CSRFToken) {
		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Username and password are required"})
		return
	}

	st, result, err := s.orchestrator.Login(r.Context(), req.Username, req.Password, requestMeta(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	if result.Challenge != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"challengeName":   result.Challenge.Name,
			"session":         result.Challenge.Session,
			"challengeParams": result.Challenge.Params,
		})
		return
	}

	// Session established, the CSRF token is spent.
	s.setCSRFCookie(w, "", -1)
	zerolog.Ctx(r.Context()).Info().Str("email", st.Email).Msg("Login succeeded")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": result.SessionToken,
	})
}

// handleChallenge completes a forced password change. The pending state is
// reconstructed from the client-held challenge handle, so any instance can
// serve the follow-up request.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if req.Username == "" || req.Session == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Username, session and new password are required"})
		return
	}

	if req.ChallengeName != provider.ChallengeNewPasswordRequired {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": provider.KindUnsupportedChallenge.Message()})
		return
	}

	st := auth.NewPasswordRequired(req.Username, req.Session, nil)
	st, result, err := s.orchestrator.SubmitNewPassword(r.Context(), st, req.NewPassword, requestMeta(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("email", st.Email).Msg("Challenge completed")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": result.SessionToken,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Username, email and password are required"})
		return
	}

	_, userSub, result, err := s.orchestrator.Register(r.Context(), req.Username, req.Password, req.Email, requestMeta(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"userSub": userSub,
		"session": result.SessionToken,
	})
}

func (s *Server) handlePasswordResetInitiate(w http.ResponseWriter, r *http.Request) {
	var req resetInitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Username is required"})
		return
	}

	msg, err := s.orchestrator.InitiatePasswordReset(r.Context(), req.Username)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if req.Username == "" || req.ConfirmationCode == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Username, confirmation code and new password are required"})
		return
	}

	if err := s.orchestrator.ConfirmPasswordReset(r.Context(), req.Username, req.ConfirmationCode, req.NewPassword); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password has been reset successfully",
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	session, err := s.orchestrator.VerifySession(r.Context(), req.Session)
	if err != nil {
		// Only a token the store positively does not hold is invalid; a
		// store failure must not log clients out.
		if errors.Is(err, store.ErrSessionNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"valid": false,
				"error": "Invalid or expired session",
			})
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Session lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": provider.KindUnknown.Message(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user": map[string]any{
			"id":    session.UserID,
			"email": session.Email,
		},
		"session": map[string]any{
			"createdAt": session.CreatedAt.Format(time.RFC3339),
			"expiresAt": session.ExpiresAt.Format(time.RFC3339),
		},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if err := s.orchestrator.Logout(r.Context(), req.Session); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Logout failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": provider.KindUnknown.Message(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// verifyCSRF checks the double-submitted token, accepting either the JSON
// body field or the request header as the echo. Writes the rejection itself
// and returns false when the request must not proceed.
func (s *Server) verifyCSRF(w http.ResponseWriter, r *http.Request, bodyToken string) bool {
	supplied := bodyToken
	if supplied == "" {
		supplied = r.Header.Get(csrf.HeaderName)
	}

	cookie, err := r.Cookie(csrf.CookieName)
	if err != nil || supplied == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": "CSRF token missing",
			"code":  codeMissingCSRF,
		})
		return false
	}

	if !csrf.Verify(supplied, cookie.Value) {
		zerolog.Ctx(r.Context()).Warn().Msg("CSRF token mismatch")
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": "Invalid CSRF token",
			"code":  codeInvalidCSRF,
		})
		return false
	}

	return true
}

// writeAuthError maps an orchestrator failure to its stable client response.
// The raw error is logged server-side and never serialized.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	if errors.Is(err, auth.ErrInvalidState) {
		log.Warn().Err(err).Msg("Rejected request in invalid state")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid authentication state"})
		return
	}

	kind := provider.KindOf(err)
	log.Warn().Err(err).Int("status", kind.Status()).Msg("Authentication request failed")
	writeJSON(w, kind.Status(), map[string]any{"error": kind.Message()})
}

func (s *Server) setCSRFCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
