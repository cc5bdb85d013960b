package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perroquet/internal/auth/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryStore stores sessions in memory for tests/dev. The single mutex
// gives Rotate the same at-most-one-winner semantics the Postgres store gets
// from its atomic conditional update.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

// New constructs an empty in-memory session store.
func New() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[sessionID]; ok {
		copied := *session
		return &copied, nil
	}
	return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
}

// Rotate atomically swaps the presented refresh secret for a new one. Exactly
// one caller per presented secret ever succeeds; everyone else observes
// ErrNotFound, including callers replaying an already-rotated secret.
func (s *InMemoryStore) Rotate(_ context.Context, presentedSecret, newSecret string, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.RefreshSecret == presentedSecret {
			session.RefreshSecret = newSecret
			session.RefreshedAt = now
			session.UpdatedAt = now
			copied := *session
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
}

// Delete removes a session scoped to its owner.
func (s *InMemoryStore) Delete(_ context.Context, sessionID id.SessionID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	delete(s.sessions, sessionID)
	return nil
}

// UpdateMessagingToken registers a push token on an owned session.
func (s *InMemoryStore) UpdateMessagingToken(_ context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	session.MessagingToken = &messagingToken
	session.UpdatedAt = now
	copied := *session
	return &copied, nil
}

// ListPushTargets returns the user's sessions that carry a messaging token.
func (s *InMemoryStore) ListPushTargets(_ context.Context, userID id.UserID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID && session.MessagingToken != nil {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

// RetireMessagingToken clears a push token the provider rejected, wherever it
// is registered. Retiring an unknown token is a no-op.
func (s *InMemoryStore) RetireMessagingToken(_ context.Context, messagingToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.MessagingToken != nil && *session.MessagingToken == messagingToken {
			session.MessagingToken = nil
		}
	}
	return nil
}

// DeleteByUser removes every session owned by the user.
func (s *InMemoryStore) DeleteByUser(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, key)
		}
	}
	return nil
}
