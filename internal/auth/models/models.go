package models

import (
	"time"

	id "perroquet/pkg/domain"
)

// User is a local account. Accounts created through Apple sign-in carry an
// AppleID and no password hash; password accounts carry the reverse.
type User struct {
	ID           id.UserID
	Username     *string
	Email        string
	PendingEmail *string
	PasswordHash *string
	AppleID      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is a device-bound refresh credential. RefreshSecret is opaque,
// single-use, and replaced on every successful refresh; the previous value is
// never valid again. MessagingToken, when registered, makes the device a push
// target for the reminder scheduler.
type Session struct {
	ID             id.SessionID
	UserID         id.UserID
	RefreshSecret  string
	MessagingToken *string
	DeviceName     string
	RefreshedAt    time.Time
	UpdatedAt      time.Time
	CreatedAt      time.Time
}

// FederatedIdentity is the verified outcome of an Apple sign-in exchange.
type FederatedIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// AccessInfo is what a successful sign-in, sign-up, or refresh hands back to
// the client.
type AccessInfo struct {
	AccessToken   string       `json:"access_token"`
	RefreshSecret string       `json:"refresh_token"`
	SessionID     id.SessionID `json:"session_id"`
}
