//go:build integration

package kv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeshorelabs/go-push-router/internal/storage/kv"
	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// Requires a local Redis (REDIS_ADDR).
func setupStore(t *testing.T) (context.Context, *kv.Store) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	rdb, err := kv.NewClient(addr, "", 15) // test DB
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rdb.FlushDB(ctx).Err()
		_ = rdb.Close()
	})

	return ctx, kv.NewStore(rdb)
}

func TestPreferences(t *testing.T) {
	ctx, store := setupStore(t)

	// Unset defaults to enabled.
	enabled, err := store.Preference(ctx, "fresh-user")
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.SetPreference(ctx, "fresh-user", false))
	enabled, err = store.Preference(ctx, "fresh-user")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestActiveSetRoundTrip(t *testing.T) {
	ctx, store := setupStore(t)

	require.NoError(t, store.AddActive(ctx, 42))
	active, err := store.IsActive(ctx, 42)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, store.RemoveActive(ctx, 42))
	active, err = store.IsActive(ctx, 42)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestScheduledQueue(t *testing.T) {
	ctx, store := setupStore(t)
	now := time.Now()

	due := notification.Notification{ID: 1, Recipient: "u1", Content: notification.Content{Title: "due"}}
	future := notification.Notification{ID: 2, Recipient: "u1", Content: notification.Content{Title: "later"}}

	require.NoError(t, store.ScheduleAdd(ctx, due, now.Add(-time.Minute)))
	require.NoError(t, store.ScheduleAdd(ctx, future, now.Add(time.Hour)))

	claimed, err := store.ClaimDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(1), claimed[0].ID)

	// A second poll claims nothing: the entry was consumed.
	claimed, err = store.ClaimDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// The future entry can still be cancelled.
	removed, err := store.CancelScheduled(ctx, 2)
	require.NoError(t, err)
	assert.True(t, removed)

	claimed, err = store.ClaimDue(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPendingReplays(t *testing.T) {
	ctx, store := setupStore(t)

	env := &notification.Envelope{
		Recipient: "u1",
		Category:  notification.CategoryMessage,
		Content:   notification.Content{Title: "while you were away"},
		Data:      map[string]string{"id": "9"},
	}
	require.NoError(t, store.StashInitialMessage(ctx, env))

	got, ok, err := store.TakeInitialMessage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env.Recipient, got.Recipient)

	// Take consumes the stash.
	_, ok, err = store.TakeInitialMessage(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	tap := &notification.TapEvent{NotificationID: 7, Data: map[string]string{"pageName": "chat-room", "id": "42"}}
	require.NoError(t, store.StashLaunchTap(ctx, tap))
	gotTap, ok, err := store.TakeLaunchTap(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), gotTap.NotificationID)
}
