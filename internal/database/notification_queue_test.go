package database

import (
	"context"
	"testing"
	"time"

	"rentmarket/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n := &models.Notification{
		EventType:     "reservation.created",
		ReservationID: 100,
		Payload:       `{"reservation_id": 100}`,
	}

	require.NoError(t, db.CreateNotification(ctx, n))
	assert.Equal(t, NotificationPending, n.Status)

	pending, err := db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(100), pending[0].ReservationID)

	require.NoError(t, db.UpdateNotificationStatus(ctx, pending[0].ID, NotificationCompleted, "", nil))
	pending, _ = db.GetPendingNotifications(ctx, 10)
	assert.Len(t, pending, 0)

	// Failed notifications
	errMsg := "redis down"
	require.NoError(t, db.CreateNotification(ctx, &models.Notification{EventType: "x", ReservationID: 101, Status: NotificationFailed, LastError: &errMsg}))
	failed, err := db.GetFailedNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "redis down", *failed[0].LastError)

	// Retry scheduling
	retry := &models.Notification{EventType: "retry", ReservationID: 102}
	require.NoError(t, db.CreateNotification(ctx, retry))

	next := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateNotificationStatus(ctx, retry.ID, NotificationRetry, "temporary", &next))
	pending, _ = db.GetPendingNotifications(ctx, 10)
	for _, p := range pending {
		assert.NotEqual(t, retry.ID, p.ID, "notification with future retry should not be pending")
	}

	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.UpdateNotificationStatus(ctx, retry.ID, NotificationRetry, "temporary", &past))
	pending, _ = db.GetPendingNotifications(ctx, 10)
	found := false
	for _, p := range pending {
		if p.ID == retry.ID {
			found = true
			assert.Equal(t, 2, p.RetryCount)
		}
	}
	assert.True(t, found)
}
