package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"perroquet/internal/auth/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, username, email, pending_email, password_hash, apple_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	query := `
		INSERT INTO users (id, username, email, pending_email, password_hash, apple_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(user.ID),
		user.Username,
		user.Email,
		user.PendingEmail,
		user.PasswordHash,
		user.AppleID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user already exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.findOne(ctx, query, uuid.UUID(userID))
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return s.findOne(ctx, query, email)
}

func (s *PostgresStore) FindByAppleID(ctx context.Context, appleID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE apple_id = $1`
	return s.findOne(ctx, query, appleID)
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID id.UserID, passwordHash string, now time.Time) error {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	return s.updateOne(ctx, query, passwordHash, now, uuid.UUID(userID))
}

func (s *PostgresStore) SetPendingEmail(ctx context.Context, userID id.UserID, email string, now time.Time) error {
	query := `UPDATE users SET pending_email = $1, updated_at = $2 WHERE id = $3`
	return s.updateOne(ctx, query, email, now, uuid.UUID(userID))
}

// ApprovePendingEmail promotes the staged address in a single statement; the
// pending_email guard in the WHERE clause keeps a replayed confirmation from
// clearing an address twice.
func (s *PostgresStore) ApprovePendingEmail(ctx context.Context, userID id.UserID, now time.Time) error {
	query := `
		UPDATE users
		SET email = pending_email, pending_email = NULL, updated_at = $1
		WHERE id = $2 AND pending_email IS NOT NULL
	`
	res, err := s.db.ExecContext(ctx, query, now, uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("approve pending email: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve pending email rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no pending email: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

type userRow interface {
	Scan(dest ...any) error
}

func scanUser(row userRow) (*models.User, error) {
	var user models.User
	var userID uuid.UUID
	var username, pendingEmail, passwordHash, appleID sql.NullString
	if err := row.Scan(
		&userID,
		&username,
		&user.Email,
		&pendingEmail,
		&passwordHash,
		&appleID,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.ID = id.UserID(userID)
	if username.Valid {
		user.Username = &username.String
	}
	if pendingEmail.Valid {
		user.PendingEmail = &pendingEmail.String
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if appleID.Valid {
		user.AppleID = &appleID.String
	}
	return &user, nil
}

// isUniqueViolation matches the Postgres unique_violation SQLSTATE (23505)
// without binding the store to a specific driver error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
