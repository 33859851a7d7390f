package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wolfeidau/authgate/internal/models"
	"github.com/wolfeidau/authgate/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// This implementation is for testing and development only - data is lost on
// restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session // token -> Session

	// nowFn is injectable for expiry tests.
	nowFn func() time.Time
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.Session),
		nowFn:    time.Now,
	}
}

// WithNow overrides the clock used for expiry checks. Testing only.
func (s *SessionStore) WithNow(nowFn func() time.Time) *SessionStore {
	s.nowFn = nowFn
	return s
}

// Create mints a new session in memory.
func (s *SessionStore) Create(ctx context.Context, params store.CreateSession) (*models.Session, error) {
	token, err := store.NewToken()
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
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

	s.mu.Lock()
	defer s.mu.Unlock()

	// Collision is vanishingly unlikely at 256 bits of entropy, but the
	// insert must never silently overwrite an existing row.
	if _, exists := s.sessions[token]; exists {
		return nil, store.ErrDuplicateToken
	}

	// Clone to avoid external modifications
	clone := *session
	s.sessions[token] = &clone

	return session, nil
}

// Get retrieves a session by token.
func (s *SessionStore) Get(ctx context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[token]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	// An expired row that the sweep has not yet removed behaves as absent.
	if s.nowFn().After(session.ExpiresAt) {
		return nil, store.ErrSessionExpired
	}

	// Clone to avoid external modifications
	clone := *session
	return &clone, nil
}

// Delete deletes a session by token (logout).
func (s *SessionStore) Delete(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[token]; !exists {
		return false, nil
	}

	delete(s.sessions, token)
	return true, nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []string
	now := s.nowFn()

	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			toDelete = append(toDelete, token)
		}
	}

	for _, token := range toDelete {
		delete(s.sessions, token)
	}

	return len(toDelete), nil
}
