// Package scheduler polls for reminders entering their dispatch window and
// pushes each one to every device its owner has registered.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	authmodels "perroquet/internal/auth/models"
	"perroquet/internal/platform/metrics"
	"perroquet/internal/push/fcm"
	"perroquet/internal/reminder/models"
	id "perroquet/pkg/domain"
)

const (
	defaultInterval  = time.Minute
	defaultLookahead = time.Minute
	defaultBatchSize = 100

	// sendConcurrency bounds the simultaneous provider calls per reminder.
	sendConcurrency = 8

	defaultTitle = "Perroquet"
	clickAction  = "OPEN_REMINDER"
)

// ReminderSource pages through the global dispatch window.
type ReminderSource interface {
	ListDue(ctx context.Context, after models.Cursor, until time.Time, limit int) ([]*models.Reminder, error)
}

// TargetSource resolves a user's push-registered sessions and retires tokens
// the provider rejects.
type TargetSource interface {
	ListPushTargets(ctx context.Context, userID id.UserID) ([]*authmodels.Session, error)
	RetireMessagingToken(ctx context.Context, messagingToken string) error
}

// Sender delivers one push message. A non-empty staleToken return marks the
// device token as dead.
type Sender interface {
	Send(ctx context.Context, msg fcm.Message) (staleToken string, err error)
}

// Scheduler drives the poll loop. Each tick covers the window from the tick
// instant to one lookahead later, so with the interval and lookahead equal
// the windows tile the timeline and a reminder is normally dispatched by a
// single tick.
type Scheduler struct {
	reminders ReminderSource
	targets   TargetSource
	sender    Sender
	logger    *slog.Logger
	metrics   *metrics.Metrics

	interval  time.Duration
	lookahead time.Duration
	batchSize int
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches application metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithInterval overrides the poll interval when greater than zero. The
// lookahead follows the interval so the dispatch windows stay contiguous.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
			s.lookahead = interval
		}
	}
}

// withNow injects the clock. Tests only.
func withNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New constructs a stopped scheduler.
func New(reminders ReminderSource, targets TargetSource, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		reminders: reminders,
		targets:   targets,
		sender:    sender,
		logger:    slog.Default(),
		interval:  defaultInterval,
		lookahead: defaultLookahead,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start launches the poll loop. Each tick runs on its own goroutine so a
// slow poll never delays the next one.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.InfoContext(ctx, "reminder scheduler started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.poll(ctx)
				}()
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight polls to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

// poll walks the dispatch window in keyset batches and pushes every reminder
// it finds. Delivery failures are isolated per device; only a store failure
// aborts the tick.
func (s *Scheduler) poll(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.IncrementReminderPolls()
	}

	now := s.now()
	until := now.Add(s.lookahead)
	// The zero-id seed makes the window's lower edge inclusive; the previous
	// tick's upper bound already covered this instant, so adjacent windows
	// tile without a gap and only a trigger landing exactly on a tick can be
	// seen twice.
	cursor := models.Cursor{TriggerAt: now}

	for {
		batch, err := s.reminders.ListDue(ctx, cursor, until, s.batchSize)
		if err != nil {
			s.logger.ErrorContext(ctx, "reminder poll failed", "error", err)
			if s.metrics != nil {
				s.metrics.IncrementReminderPollErrors()
			}
			return
		}
		for _, reminder := range batch {
			s.dispatch(ctx, reminder)
		}
		if len(batch) < s.batchSize {
			return
		}
		last := batch[len(batch)-1]
		cursor = models.Cursor{TriggerAt: last.TriggerAt, ID: last.ID}
	}
}

// dispatch fans one reminder out to all of its owner's registered devices.
// One dead or failing device never blocks delivery to the others.
func (s *Scheduler) dispatch(ctx context.Context, reminder *models.Reminder) {
	targets, err := s.targets.ListPushTargets(ctx, reminder.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "could not resolve push targets",
			"reminder_id", reminder.ID, "error", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	title := defaultTitle
	if reminder.Title != nil && *reminder.Title != "" {
		title = *reminder.Title
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for _, target := range targets {
		token := *target.MessagingToken
		g.Go(func() error {
			s.send(gctx, fcm.Message{
				Token:       token,
				Title:       title,
				Body:        reminder.Body,
				ClickAction: clickAction,
			}, reminder.ID)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // send never returns an error

	if s.metrics != nil {
		s.metrics.IncrementReminderDispatches()
	}
}

func (s *Scheduler) send(ctx context.Context, msg fcm.Message, reminderID id.ReminderID) {
	stale, err := s.sender.Send(ctx, msg)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "push delivery failed",
			"reminder_id", reminderID, "error", err)
		if s.metrics != nil {
			s.metrics.IncrementPushSends("failure")
		}
	case stale != "":
		s.logger.InfoContext(ctx, "retiring rejected device token", "reminder_id", reminderID)
		if s.metrics != nil {
			s.metrics.IncrementPushSends("failure")
		}
		if retireErr := s.targets.RetireMessagingToken(ctx, stale); retireErr != nil {
			s.logger.ErrorContext(ctx, "could not retire device token", "error", retireErr)
		}
	default:
		if s.metrics != nil {
			s.metrics.IncrementPushSends("success")
		}
	}
}
