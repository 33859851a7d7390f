package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authgate/internal/models"
	"github.com/wolfeidau/authgate/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// Create mints a new session row with a freshly generated token.
func (s *SessionStore) Create(ctx context.Context, params store.CreateSession) (*models.Session, error) {
	token, err := store.NewToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.Session{
		Token:          token,
		UserID:         params.UserID,
		Email:          params.Email,
		ProviderTokens: params.ProviderTokens,
		CreatedAt:      now,
		ExpiresAt:      now.Add(params.TTL),
		UserAgent:      params.UserAgent,
		IPAddress:      params.IPAddress,
	}

	query := `
		INSERT INTO sessions (
			token, user_id, email,
			provider_access_token, provider_id_token, provider_refresh_token,
			created_at, expires_at, user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10::inet
		)
	`

	// Convert empty IP address to nil for proper INET handling
	var ipAddress any
	if session.IPAddress != "" {
		ipAddress = session.IPAddress
	}

	_, err = s.pool.Exec(ctx, query,
		session.Token,
		session.UserID,
		session.Email,
		session.ProviderTokens.AccessToken,
		session.ProviderTokens.IDToken,
		session.ProviderTokens.RefreshToken,
		session.CreatedAt,
		session.ExpiresAt,
		session.UserAgent,
		ipAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("user_id", session.UserID).
		Time("expires_at", session.ExpiresAt).
		Msg("Created session")

	return session, nil
}

// Get retrieves a session by token. Expired-but-unswept rows behave as
// not-found.
func (s *SessionStore) Get(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT
			token, user_id, email,
			provider_access_token, provider_id_token, provider_refresh_token,
			created_at, expires_at, user_agent, ip_address
		FROM sessions
		WHERE token = $1
	`

	var session models.Session
	var ipAddress *netip.Prefix
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&session.Token,
		&session.UserID,
		&session.Email,
		&session.ProviderTokens.AccessToken,
		&session.ProviderTokens.IDToken,
		&session.ProviderTokens.RefreshToken,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.UserAgent,
		&ipAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}

	// INET scans as a prefix; the audit field holds the bare address.
	if ipAddress != nil {
		session.IPAddress = ipAddress.Addr().String()
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return &session, nil
}

// Delete deletes a session by token (logout). Deleting a missing token is
// not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) (bool, error) {
	query := `DELETE FROM sessions WHERE token = $1`

	result, err := s.pool.Exec(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", mapPostgresError(err))
	}

	return result.RowsAffected() > 0, nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM sessions WHERE expires_at <= $1`

	result, err := s.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deleted expired sessions")
	}

	return count, nil
}
