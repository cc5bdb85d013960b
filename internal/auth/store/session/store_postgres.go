package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perroquet/internal/auth/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, user_id, refresh_secret, messaging_token, device_name, refreshed_at, updated_at, created_at`

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	query := `
		INSERT INTO sessions (id, user_id, refresh_secret, messaging_token, device_name, refreshed_at, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(session.ID),
		uuid.UUID(session.UserID),
		session.RefreshSecret,
		session.MessagingToken,
		session.DeviceName,
		session.RefreshedAt,
		session.UpdatedAt,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, uuid.UUID(sessionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// Rotate swaps the presented refresh secret for a new one in a single
// conditional UPDATE. The WHERE clause on the old secret makes the store the
// arbiter under concurrency: two refreshes racing on the same secret can
// never both match the row, so at most one rotation succeeds.
func (s *PostgresStore) Rotate(ctx context.Context, presentedSecret, newSecret string, now time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET refresh_secret = $1, refreshed_at = $2, updated_at = $2
		WHERE refresh_secret = $3
		RETURNING ` + sessionColumns
	session, err := scanSession(s.db.QueryRowContext(ctx, query, newSecret, now, presentedSecret))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID id.SessionID, userID id.UserID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`,
		uuid.UUID(sessionID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateMessagingToken(ctx context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string, now time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET messaging_token = $1, updated_at = $2
		WHERE id = $3 AND user_id = $4
		RETURNING ` + sessionColumns
	session, err := scanSession(s.db.QueryRowContext(ctx, query, messagingToken, now, uuid.UUID(sessionID), uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("update messaging token: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListPushTargets(ctx context.Context, userID id.UserID) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 AND messaging_token IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list push targets: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push target: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list push targets rows: %w", err)
	}
	return sessions, nil
}

// RetireMessagingToken clears a push token the provider rejected, wherever it
// is registered. Retiring an unknown token is a no-op.
func (s *PostgresStore) RetireMessagingToken(ctx context.Context, messagingToken string) error {
	query := `UPDATE sessions SET messaging_token = NULL WHERE messaging_token = $1`
	if _, err := s.db.ExecContext(ctx, query, messagingToken); err != nil {
		return fmt.Errorf("retire messaging token: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteByUser(ctx context.Context, userID id.UserID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, uuid.UUID(userID)); err != nil {
		return fmt.Errorf("delete sessions by user: %w", err)
	}
	return nil
}

type sessionRow interface {
	Scan(dest ...any) error
}

func scanSession(row sessionRow) (*models.Session, error) {
	var session models.Session
	var sessionID, userID uuid.UUID
	var messagingToken sql.NullString
	if err := row.Scan(
		&sessionID,
		&userID,
		&session.RefreshSecret,
		&messagingToken,
		&session.DeviceName,
		&session.RefreshedAt,
		&session.UpdatedAt,
		&session.CreatedAt,
	); err != nil {
		return nil, err
	}
	session.ID = id.SessionID(sessionID)
	session.UserID = id.UserID(userID)
	if messagingToken.Valid {
		session.MessagingToken = &messagingToken.String
	}
	return &session, nil
}
