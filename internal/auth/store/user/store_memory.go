package user

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"perroquet/internal/auth/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

// InMemoryStore stores users in memory for tests/dev.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

// New constructs an empty in-memory user store.
func New() *InMemoryStore {
	return &InMemoryStore{users: make(map[id.UserID]*models.User)}
}

func (s *InMemoryStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("email already exists: %w", sentinel.ErrConflict)
		}
		if user.AppleID != nil && existing.AppleID != nil && *existing.AppleID == *user.AppleID {
			return fmt.Errorf("apple account already linked: %w", sentinel.ErrConflict)
		}
		if user.Username != nil && existing.Username != nil && strings.EqualFold(*existing.Username, *user.Username) {
			return fmt.Errorf("username already exists: %w", sentinel.ErrConflict)
		}
	}

	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[userID]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByAppleID(_ context.Context, appleID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.AppleID != nil && *user.AppleID == appleID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) UpdatePasswordHash(_ context.Context, userID id.UserID, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	user.PasswordHash = &passwordHash
	user.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) SetPendingEmail(_ context.Context, userID id.UserID, email string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	user.PendingEmail = &email
	user.UpdatedAt = now
	return nil
}

// ApprovePendingEmail promotes the staged address to the live one.
func (s *InMemoryStore) ApprovePendingEmail(_ context.Context, userID id.UserID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	if user.PendingEmail == nil {
		return fmt.Errorf("no pending email: %w", sentinel.ErrInvalidState)
	}
	user.Email = *user.PendingEmail
	user.PendingEmail = nil
	user.UpdatedAt = now
	return nil
}
