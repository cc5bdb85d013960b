package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perroquet/internal/auth/models"
	id "perroquet/pkg/domain"
	"perroquet/pkg/sentinel"
)

func newTestUser(email string) *models.User {
	now := time.Now()
	return &models.User{
		ID:        id.NewUserID(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func Test_Create_RejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := New()

	appleID := "apple-sub-1"
	first := newTestUser("a@example.com")
	first.AppleID = &appleID
	require.NoError(t, store.Create(ctx, first))

	dupEmail := newTestUser("A@EXAMPLE.COM")
	err := store.Create(ctx, dupEmail)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	dupApple := newTestUser("b@example.com")
	dupApple.AppleID = &appleID
	err = store.Create(ctx, dupApple)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrConflict))
}

func Test_FindByAppleID(t *testing.T) {
	ctx := context.Background()
	store := New()

	appleID := "apple-sub-2"
	user := newTestUser("c@example.com")
	user.AppleID = &appleID
	require.NoError(t, store.Create(ctx, user))

	found, err := store.FindByAppleID(ctx, appleID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = store.FindByAppleID(ctx, "unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func Test_PendingEmailLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	user := newTestUser("old@example.com")
	require.NoError(t, store.Create(ctx, user))

	// Approving before any update is staged is an invalid state.
	err := store.ApprovePendingEmail(ctx, user.ID, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState))

	require.NoError(t, store.SetPendingEmail(ctx, user.ID, "new@example.com", time.Now()))
	require.NoError(t, store.ApprovePendingEmail(ctx, user.ID, time.Now()))

	found, err := store.FindByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Nil(t, found.PendingEmail)

	// The old address no longer resolves.
	_, err = store.FindByEmail(ctx, "old@example.com")
	require.Error(t, err)
}

func Test_UpdatePasswordHash(t *testing.T) {
	ctx := context.Background()
	store := New()
	user := newTestUser("d@example.com")
	require.NoError(t, store.Create(ctx, user))

	require.NoError(t, store.UpdatePasswordHash(ctx, user.ID, "hash-2", time.Now()))

	found, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found.PasswordHash)
	assert.Equal(t, "hash-2", *found.PasswordHash)

	err = store.UpdatePasswordHash(ctx, id.NewUserID(), "hash-3", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}
