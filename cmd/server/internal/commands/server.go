package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/authgate/internal/auth"
	"github.com/wolfeidau/authgate/internal/logger"
	"github.com/wolfeidau/authgate/internal/provider/cognito"
	"github.com/wolfeidau/authgate/internal/server"
	"github.com/wolfeidau/authgate/internal/store"
	memorystore "github.com/wolfeidau/authgate/internal/store/memory"
	postgresstore "github.com/wolfeidau/authgate/internal/store/postgres"
	"github.com/wolfeidau/authgate/internal/sweeper"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"AUTHGATE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"AUTHGATE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"AUTHGATE_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"AUTHGATE_CORS_ORIGINS"`

	// Cookie configuration
	CookieDomain string `help:"domain scope for the CSRF cookie" default:"" env:"AUTHGATE_COOKIE_DOMAIN"`
	CookieSecure bool   `help:"mark cookies Secure" default:"true" negatable:"" env:"AUTHGATE_COOKIE_SECURE"`

	// Session configuration
	SessionTTL    time.Duration `help:"fallback session TTL" default:"1200s" env:"AUTHGATE_SESSION_TTL"`
	SweepInterval time.Duration `help:"interval between expired session sweeps" default:"1h" env:"AUTHGATE_SWEEP_INTERVAL"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"AUTHGATE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	// Identity provider configuration
	Cognito CognitoFlags `embed:"" prefix:"cognito-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"AUTHGATE_POSTGRES_AUTO_MIGRATE"`
}

type CognitoFlags struct {
	Region     string `help:"AWS region of the user pool" default:"us-east-1" env:"AWS_REGION"`
	UserPoolID string `help:"Cognito user pool id" env:"AUTHGATE_COGNITO_USER_POOL_ID"`
	ClientID   string `help:"Cognito app client id" env:"AUTHGATE_COGNITO_CLIENT_ID"`

	// Client secret, either fetched from Secrets Manager or supplied
	// directly for local development.
	SecretName   string `help:"Secrets Manager secret holding the app client secret" env:"AUTHGATE_COGNITO_SECRET_NAME"`
	ClientSecret string `help:"static app client secret (development only)" env:"AUTHGATE_COGNITO_CLIENT_SECRET"`

	Endpoint    string        `help:"Cognito endpoint override (cognito-local)" default:"" env:"AUTHGATE_COGNITO_ENDPOINT"`
	CallTimeout time.Duration `help:"timeout for each provider call" default:"10s" env:"AUTHGATE_COGNITO_CALL_TIMEOUT"`
}

func (c *CognitoFlags) Validate() error {
	if c.UserPoolID == "" {
		return errors.New("Cognito user pool id is required (--cognito-user-pool-id or AUTHGATE_COGNITO_USER_POOL_ID)")
	}
	if c.ClientID == "" {
		return errors.New("Cognito client id is required (--cognito-client-id or AUTHGATE_COGNITO_CLIENT_ID)")
	}
	if c.SecretName == "" && c.ClientSecret == "" {
		return errors.New("a client secret source is required (--cognito-secret-name or --cognito-client-secret)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Create the session store based on store type
	var sessionStore store.SessionStore

	switch c.StoreType {
	case "postgres":
		if c.PostgresStore.ConnString == "" {
			return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
		}

		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		sessionStore = postgresstore.NewSessionStore(pool)
		log.Info().Msg("Using PostgreSQL session store")

	default:
		sessionStore = memorystore.NewSessionStore()
		log.Info().Msg("Using in-memory session store")
	}

	idp, err := cognito.New(ctx, cognito.Config{
		Region:       c.Cognito.Region,
		UserPoolID:   c.Cognito.UserPoolID,
		ClientID:     c.Cognito.ClientID,
		SecretName:   c.Cognito.SecretName,
		ClientSecret: c.Cognito.ClientSecret,
		Endpoint:     c.Cognito.Endpoint,
		CallTimeout:  c.Cognito.CallTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity provider: %w", err)
	}

	orchestrator, err := auth.New(sessionStore, idp, auth.WithSessionTTL(c.SessionTTL))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Background sweep of expired sessions; lazy expiry on read keeps the
	// store correct between sweeps.
	go sweeper.New(sessionStore, c.SweepInterval).Run(ctx)

	srv := server.NewServer(orchestrator, server.Config{
		CORSOrigins:  c.CORSOrigins,
		CookieDomain: c.CookieDomain,
		CookieSecure: c.CookieSecure,
	})

	httpServer := configureHTTPServer(c.Listen, srv.Handler(log))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" && c.Key != "" {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("Shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}
