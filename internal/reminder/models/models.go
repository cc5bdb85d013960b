package models

import (
	"time"

	id "perroquet/pkg/domain"
)

// Reminder is a scheduled note that fires at TriggerAt. Title is optional;
// the app falls back to its own name when showing an untitled reminder.
type Reminder struct {
	ID        id.ReminderID
	UserID    id.UserID
	Title     *string
	Body      string
	Tags      []string
	TriggerAt time.Time
	UpdatedAt time.Time
	CreatedAt time.Time
}

// Cursor is a keyset pagination position over (TriggerAt, ID). Ordering by
// the pair is total, so pages never skip or repeat rows the way offset
// pagination does under concurrent writes.
type Cursor struct {
	TriggerAt time.Time
	ID        id.ReminderID
}

// After reports whether the reminder sorts strictly after the cursor.
func (r *Reminder) After(c Cursor) bool {
	if r.TriggerAt.After(c.TriggerAt) {
		return true
	}
	if r.TriggerAt.Equal(c.TriggerAt) {
		return r.ID.String() > c.ID.String()
	}
	return false
}
