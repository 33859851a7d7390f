package server

import (
	"net"
	"net/http"
	"strings"

	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/authgate/internal/auth"
	"github.com/wolfeidau/authgate/internal/logger"
)

// Config controls the HTTP surface of the gateway.
type Config struct {
	// CORSOrigins lists the origins allowed to call the /api/ routes with
	// credentials.
	CORSOrigins []string

	// CookieDomain scopes the CSRF cookie. Empty means host-only.
	CookieDomain string

	// CookieSecure marks cookies Secure. Disable only for local development
	// over plain HTTP.
	CookieSecure bool
}

// Server wraps the HTTP handlers for the authentication API.
type Server struct {
	orchestrator *auth.Orchestrator
	cfg          Config
}

// NewServer creates a new server backed by the given orchestrator.
func NewServer(orchestrator *auth.Orchestrator, cfg Config) *Server {
	return &Server{
		orchestrator: orchestrator,
		cfg:          cfg,
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /api/login", s.handleLoginPage)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/challenge", s.handleChallenge)
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/password-reset/initiate", s.handlePasswordResetInitiate)
	mux.HandleFunc("POST /api/password-reset/confirm", s.handlePasswordResetConfirm)
	mux.HandleFunc("POST /api/verify", s.handleVerify)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	// CSRF origin protection for anything outside the JSON API. The API
	// routes carry their own double-submit token instead.
	protection := csrf.New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			withCORS(s.cfg.CORSOrigins, mux).ServeHTTP(w, r)
		} else {
			protection.Handler(mux).ServeHTTP(w, r)
		}
	})

	return logger.Requests(log)(handler)
}

// isAPIRoute returns true if the path is an API route that needs CORS instead
// of cross-origin rejection.
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// withCORS adds CORS support to the API handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
		AllowCredentials: true, // Required for cookie-based CSRF tokens
	})
	return middleware.Handler(h)
}

// requestMeta captures the audit fields recorded against new sessions.
func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
}

// clientIP extracts the originating client IP, preferring proxy headers set
// by the load balancer over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the original client when behind trusted proxies.
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
