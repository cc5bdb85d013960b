package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"perroquet/internal/reminder/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

// InMemoryStore stores reminders in memory for tests/dev.
type InMemoryStore struct {
	mu        sync.RWMutex
	reminders map[id.ReminderID]*models.Reminder
}

// New constructs an empty in-memory reminder store.
func New() *InMemoryStore {
	return &InMemoryStore{reminders: make(map[id.ReminderID]*models.Reminder)}
}

func (s *InMemoryStore) Create(_ context.Context, reminder *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *reminder
	s.reminders[reminder.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, reminderID id.ReminderID, userID id.UserID) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if reminder, ok := s.reminders[reminderID]; ok && reminder.UserID == userID {
		copied := *reminder
		return &copied, nil
	}
	return nil, fmt.Errorf("reminder not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) Update(_ context.Context, reminder *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.reminders[reminder.ID]
	if !ok || existing.UserID != reminder.UserID {
		return fmt.Errorf("reminder not found: %w", sentinel.ErrNotFound)
	}
	copied := *reminder
	s.reminders[reminder.ID] = &copied
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, reminderID id.ReminderID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.reminders[reminderID]
	if !ok || existing.UserID != userID {
		return fmt.Errorf("reminder not found: %w", sentinel.ErrNotFound)
	}
	delete(s.reminders, reminderID)
	return nil
}

// ListByUser returns the user's reminders sorted by (trigger_at, id),
// starting strictly after the cursor, at most limit rows.
func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID, after models.Cursor, limit int) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Reminder, 0)
	for _, reminder := range s.reminders {
		if reminder.UserID == userID && reminder.After(after) {
			copied := *reminder
			matched = append(matched, &copied)
		}
	}
	sortByTriggerThenID(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListDue returns reminders across all users sorted by (trigger_at, id),
// strictly after the cursor and triggering no later than until, at most limit
// rows.
func (s *InMemoryStore) ListDue(_ context.Context, after models.Cursor, until time.Time, limit int) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Reminder, 0)
	for _, reminder := range s.reminders {
		if reminder.After(after) && !reminder.TriggerAt.After(until) {
			copied := *reminder
			matched = append(matched, &copied)
		}
	}
	sortByTriggerThenID(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func sortByTriggerThenID(reminders []*models.Reminder) {
	sort.Slice(reminders, func(i, j int) bool {
		if reminders[i].TriggerAt.Equal(reminders[j].TriggerAt) {
			return reminders[i].ID.String() < reminders[j].ID.String()
		}
		return reminders[i].TriggerAt.Before(reminders[j].TriggerAt)
	})
}
