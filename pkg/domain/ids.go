// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "perroquet/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing UserID where SessionID is expected.
type (
	UserID     uuid.UUID
	SessionID  uuid.UUID
	ReminderID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseSessionID(s string) (SessionID, error) {
	id, err := parseUUID(s, "session ID")
	return SessionID(id), err
}

func ParseReminderID(s string) (ReminderID, error) {
	id, err := parseUUID(s, "reminder ID")
	return ReminderID(id), err
}

// String methods - for logging and debugging.

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id ReminderID) String() string { return uuid.UUID(id).String() }

// Text marshalling - IDs travel through JSON as canonical UUID strings.

func (id UserID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ReminderID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(text []byte) error {
	parsed, err := uuid.ParseBytes(text)
	*id = UserID(parsed)
	return err
}

func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := uuid.ParseBytes(text)
	*id = SessionID(parsed)
	return err
}

func (id *ReminderID) UnmarshalText(text []byte) error {
	parsed, err := uuid.ParseBytes(text)
	*id = ReminderID(parsed)
	return err
}

// IsNil checks - used for service-layer validation.

func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ReminderID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewUserID returns a fresh random user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewSessionID returns a fresh random session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewReminderID returns a fresh random reminder ID.
func NewReminderID() ReminderID { return ReminderID(uuid.New()) }

// parseUUID is the shared validation logic.
// Nil UUIDs are allowed here; use IsNil() at the service layer for business
// validation, which lets store lookups return proper "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
