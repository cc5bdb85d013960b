// Package service implements reminder CRUD with owner scoping and keyset
// pagination.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"perroquet/internal/reminder/models"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
	"perroquet/pkg/sentinel"
)

const (
	// DefaultPageSize is used when a list request carries no limit.
	DefaultPageSize = 50
	// MaxPageSize caps a list request's limit.
	MaxPageSize = 100

	maxBodyLength  = 4096
	maxTitleLength = 256
)

// Store persists reminders.
type Store interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	FindByID(ctx context.Context, reminderID id.ReminderID, userID id.UserID) (*models.Reminder, error)
	Update(ctx context.Context, reminder *models.Reminder) error
	Delete(ctx context.Context, reminderID id.ReminderID, userID id.UserID) error
	ListByUser(ctx context.Context, userID id.UserID, after models.Cursor, limit int) ([]*models.Reminder, error)
}

// Service orchestrates reminder CRUD.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs the reminder service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Params carries the mutable fields of a reminder.
type Params struct {
	Title     *string
	Body      string
	Tags      []string
	TriggerAt time.Time
}

func (p Params) validate() error {
	if p.Body == "" {
		return dErrors.New(dErrors.CodeValidation, "body cannot be empty")
	}
	if len(p.Body) > maxBodyLength {
		return dErrors.New(dErrors.CodeValidation, "body is too long")
	}
	if p.Title != nil && len(*p.Title) > maxTitleLength {
		return dErrors.New(dErrors.CodeValidation, "title is too long")
	}
	if p.TriggerAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "trigger time is required")
	}
	return nil
}

// Create stores a new reminder for the user.
func (s *Service) Create(ctx context.Context, userID id.UserID, params Params) (*models.Reminder, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	reminder := &models.Reminder{
		ID:        id.NewReminderID(),
		UserID:    userID,
		Title:     params.Title,
		Body:      params.Body,
		Tags:      params.Tags,
		TriggerAt: params.TriggerAt,
		UpdatedAt: now,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, reminder); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not create reminder")
	}
	s.logger.InfoContext(ctx, "reminder created", "reminder_id", reminder.ID, "user_id", userID)
	return reminder, nil
}

// Get fetches one owned reminder.
func (s *Service) Get(ctx context.Context, reminderID id.ReminderID, userID id.UserID) (*models.Reminder, error) {
	reminder, err := s.store.FindByID(ctx, reminderID, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "reminder not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not fetch reminder")
	}
	return reminder, nil
}

// Update replaces the mutable fields of an owned reminder.
func (s *Service) Update(ctx context.Context, reminderID id.ReminderID, userID id.UserID, params Params) (*models.Reminder, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	reminder, err := s.Get(ctx, reminderID, userID)
	if err != nil {
		return nil, err
	}
	reminder.Title = params.Title
	reminder.Body = params.Body
	reminder.Tags = params.Tags
	reminder.TriggerAt = params.TriggerAt
	reminder.UpdatedAt = s.now()

	if err := s.store.Update(ctx, reminder); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "reminder not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not update reminder")
	}
	return reminder, nil
}

// Delete removes an owned reminder.
func (s *Service) Delete(ctx context.Context, reminderID id.ReminderID, userID id.UserID) error {
	if err := s.store.Delete(ctx, reminderID, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "reminder not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not delete reminder")
	}
	return nil
}

// List pages through the user's reminders. The returned cursor, when
// non-zero, resumes the walk after the last returned row.
func (s *Service) List(ctx context.Context, userID id.UserID, after models.Cursor, limit int) ([]*models.Reminder, models.Cursor, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	reminders, err := s.store.ListByUser(ctx, userID, after, limit)
	if err != nil {
		return nil, models.Cursor{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not list reminders")
	}

	var next models.Cursor
	if len(reminders) == limit {
		last := reminders[len(reminders)-1]
		next = models.Cursor{TriggerAt: last.TriggerAt, ID: last.ID}
	}
	return reminders, next, nil
}
