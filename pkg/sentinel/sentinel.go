package sentinel

import "errors"

// Sentinel dependency errors. Stores and low-level clients should return these
// (optionally wrapped) so services can translate them into domain errors
// exactly once.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrExpired        = errors.New("expired")
	ErrConflict       = errors.New("conflict")
	ErrInvalidState   = errors.New("invalid state")
	ErrUnavailable    = errors.New("unavailable")
	ErrNeverRefreshed = errors.New("never refreshed")
)
