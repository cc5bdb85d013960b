package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmodels "perroquet/internal/auth/models"
	sessionstore "perroquet/internal/auth/store/session"
	"perroquet/internal/push/fcm"
	"perroquet/internal/reminder/models"
	reminderstore "perroquet/internal/reminder/store/reminder"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
)

// fakeSender records deliveries and simulates per-token provider behavior.
type fakeSender struct {
	mu          sync.Mutex
	sent        []fcm.Message
	failTokens  map[string]bool
	staleTokens map[string]bool
	notify      chan fcm.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failTokens:  make(map[string]bool),
		staleTokens: make(map[string]bool),
	}
}

func (f *fakeSender) Send(_ context.Context, msg fcm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTokens[msg.Token] {
		return "", dErrors.New(dErrors.CodeUnavailable, "provider outage")
	}
	if f.staleTokens[msg.Token] {
		return msg.Token, nil
	}
	f.sent = append(f.sent, msg)
	if f.notify != nil {
		f.notify <- msg
	}
	return "", nil
}

func (f *fakeSender) sentTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokens := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		tokens = append(tokens, msg.Token)
	}
	return tokens
}

func registerDevice(t *testing.T, sessions *sessionstore.InMemoryStore, userID id.UserID, token string) {
	t.Helper()
	now := time.Now()
	session := &authmodels.Session{
		ID:            id.NewSessionID(),
		UserID:        userID,
		RefreshSecret: "secret-" + token,
		RefreshedAt:   now,
		UpdatedAt:     now,
		CreatedAt:     now,
	}
	require.NoError(t, sessions.Create(context.Background(), session))
	_, err := sessions.UpdateMessagingToken(context.Background(), session.ID, userID, token, now)
	require.NoError(t, err)
}

func addReminder(t *testing.T, store *reminderstore.InMemoryStore, userID id.UserID, body string, triggerAt time.Time) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &models.Reminder{
		ID:        id.NewReminderID(),
		UserID:    userID,
		Body:      body,
		TriggerAt: triggerAt,
		UpdatedAt: now,
		CreatedAt: now,
	}))
}

func Test_Poll_DispatchesOnlyTheCurrentWindow(t *testing.T) {
	reminders := reminderstore.New()
	sessions := sessionstore.New()
	sender := newFakeSender()
	userID := id.NewUserID()
	registerDevice(t, sessions, userID, "device-1")

	now := time.Now().Truncate(time.Second)
	addReminder(t, reminders, userID, "inside the window", now.Add(30*time.Second))
	addReminder(t, reminders, userID, "beyond the window", now.Add(90*time.Second))
	addReminder(t, reminders, userID, "already past", now.Add(-30*time.Second))

	s := New(reminders, sessions, sender, withNow(func() time.Time { return now }))
	s.poll(context.Background())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "inside the window", sender.sent[0].Body)
	assert.Equal(t, "Perroquet", sender.sent[0].Title)
}

func Test_Dispatch_RetiresRejectedToken(t *testing.T) {
	reminders := reminderstore.New()
	sessions := sessionstore.New()
	sender := newFakeSender()
	sender.staleTokens["dead-device"] = true

	userID := id.NewUserID()
	registerDevice(t, sessions, userID, "dead-device")

	now := time.Now().Truncate(time.Second)
	addReminder(t, reminders, userID, "ping", now.Add(10*time.Second))

	s := New(reminders, sessions, sender, withNow(func() time.Time { return now }))
	s.poll(context.Background())

	targets, err := sessions.ListPushTargets(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func Test_Dispatch_IsolatesFailingDevice(t *testing.T) {
	reminders := reminderstore.New()
	sessions := sessionstore.New()
	sender := newFakeSender()
	sender.failTokens["flaky-device"] = true

	userID := id.NewUserID()
	registerDevice(t, sessions, userID, "flaky-device")
	registerDevice(t, sessions, userID, "healthy-device")

	now := time.Now().Truncate(time.Second)
	addReminder(t, reminders, userID, "ping", now.Add(10*time.Second))

	s := New(reminders, sessions, sender, withNow(func() time.Time { return now }))
	s.poll(context.Background())

	assert.Equal(t, []string{"healthy-device"}, sender.sentTokens())
}

func Test_Poll_PagesThroughBatches(t *testing.T) {
	reminders := reminderstore.New()
	sessions := sessionstore.New()
	sender := newFakeSender()
	userID := id.NewUserID()
	registerDevice(t, sessions, userID, "device-1")

	now := time.Now().Truncate(time.Second)
	for i := 0; i < 7; i++ {
		addReminder(t, reminders, userID, "batched", now.Add(time.Duration(i+1)*time.Second))
	}

	s := New(reminders, sessions, sender, withNow(func() time.Time { return now }))
	s.batchSize = 3
	s.poll(context.Background())

	assert.Len(t, sender.sent, 7)
}

func Test_StartStop_DeliversAndShutsDownCleanly(t *testing.T) {
	reminders := reminderstore.New()
	sessions := sessionstore.New()
	sender := newFakeSender()
	sender.notify = make(chan fcm.Message, 1)

	userID := id.NewUserID()
	registerDevice(t, sessions, userID, "device-1")
	// Lands inside the first tick's window: ticks fire every 10ms and each
	// covers the following 10ms.
	addReminder(t, reminders, userID, "soon", time.Now().Add(15*time.Millisecond))

	s := New(reminders, sessions, sender, WithInterval(10*time.Millisecond))
	s.Start(context.Background())
	defer s.Stop()

	select {
	case msg := <-sender.notify:
		assert.Equal(t, "soon", msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder was not dispatched")
	}
}
