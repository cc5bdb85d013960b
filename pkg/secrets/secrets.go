package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"

	dErrors "perroquet/pkg/domain-errors"
)

// Generate creates a cryptographically secure random secret.
// Returns a base64-encoded string with 256 bits of entropy, suitable for use
// as a session refresh secret.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of the provided password. Hashing is CPU-bound,
// so it runs on its own goroutine and honors ctx cancellation rather than
// blocking a request-handling goroutine indefinitely.
func Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", dErrors.New(dErrors.CodeValidation, "password cannot be empty")
	}

	type result struct {
		hash string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			if errors.Is(err, bcrypt.ErrPasswordTooLong) {
				ch <- result{err: dErrors.New(dErrors.CodeValidation, "password is too long")}
				return
			}
			ch <- result{err: dErrors.Wrap(err, dErrors.CodeInternal, "could not hash password")}
			return
		}
		ch <- result{hash: string(hashed)}
	}()

	select {
	case res := <-ch:
		return res.hash, res.err
	case <-ctx.Done():
		return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "password hashing cancelled")
	}
}

// Verify checks if a plaintext password matches a bcrypt hash.
func Verify(ctx context.Context, password, hash string) error {
	ch := make(chan error, 1)
	go func() {
		ch <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}()

	select {
	case err := <-ch:
		if err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify password")
		}
		return nil
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "password verification cancelled")
	}
}
