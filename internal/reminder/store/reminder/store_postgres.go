package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perroquet/internal/reminder/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

// PostgresStore persists reminders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed reminder store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reminderColumns = `id, user_id, title, body, tags, trigger_at, updated_at, created_at`

func (s *PostgresStore) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder == nil {
		return fmt.Errorf("reminder is required")
	}
	tags, err := encodeTags(reminder.Tags)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO reminders (id, user_id, title, body, tags, trigger_at, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(reminder.ID),
		uuid.UUID(reminder.UserID),
		reminder.Title,
		reminder.Body,
		tags,
		reminder.TriggerAt,
		reminder.UpdatedAt,
		reminder.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reminderID id.ReminderID, userID id.UserID) (*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1 AND user_id = $2`
	reminder, err := scanReminder(s.db.QueryRowContext(ctx, query, uuid.UUID(reminderID), uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find reminder: %w", err)
	}
	return reminder, nil
}

func (s *PostgresStore) Update(ctx context.Context, reminder *models.Reminder) error {
	tags, err := encodeTags(reminder.Tags)
	if err != nil {
		return err
	}
	query := `
		UPDATE reminders
		SET title = $1, body = $2, tags = $3, trigger_at = $4, updated_at = $5
		WHERE id = $6 AND user_id = $7
	`
	res, err := s.db.ExecContext(ctx, query,
		reminder.Title,
		reminder.Body,
		tags,
		reminder.TriggerAt,
		reminder.UpdatedAt,
		uuid.UUID(reminder.ID),
		uuid.UUID(reminder.UserID),
	)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reminder rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reminder not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, reminderID id.ReminderID, userID id.UserID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1 AND user_id = $2`,
		uuid.UUID(reminderID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reminder rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reminder not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// ListByUser pages through a user's reminders by keyset on (trigger_at, id).
func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID, after models.Cursor, limit int) ([]*models.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE user_id = $1 AND (trigger_at, id) > ($2, $3)
		ORDER BY trigger_at, id
		LIMIT $4
	`
	return s.list(ctx, query, uuid.UUID(userID), after.TriggerAt, uuid.UUID(after.ID), limit)
}

// ListDue pages through the global dispatch window by keyset on
// (trigger_at, id), bounded above by until.
func (s *PostgresStore) ListDue(ctx context.Context, after models.Cursor, until time.Time, limit int) ([]*models.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE (trigger_at, id) > ($1, $2) AND trigger_at <= $3
		ORDER BY trigger_at, id
		LIMIT $4
	`
	return s.list(ctx, query, after.TriggerAt, uuid.UUID(after.ID), until, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	reminders := make([]*models.Reminder, 0)
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reminders rows: %w", err)
	}
	return reminders, nil
}

type reminderRow interface {
	Scan(dest ...any) error
}

func scanReminder(row reminderRow) (*models.Reminder, error) {
	var reminder models.Reminder
	var reminderID, userID uuid.UUID
	var title sql.NullString
	var tags []byte
	if err := row.Scan(
		&reminderID,
		&userID,
		&title,
		&reminder.Body,
		&tags,
		&reminder.TriggerAt,
		&reminder.UpdatedAt,
		&reminder.CreatedAt,
	); err != nil {
		return nil, err
	}
	reminder.ID = id.ReminderID(reminderID)
	reminder.UserID = id.UserID(userID)
	if title.Valid {
		reminder.Title = &title.String
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &reminder.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &reminder, nil
}

// encodeTags stores the tag list as jsonb; NULL when there are none.
func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return encoded, nil
}
