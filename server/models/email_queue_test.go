package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueTestEmail(t *testing.T, store *Store, priority int, scheduledAt time.Time) *EmailQueueItem {
	t.Helper()

	item := &EmailQueueItem{
		Recipient:   "mum@example.com",
		Subject:     "SOS",
		Body:        "<p>help</p>",
		Status:      PENDING_EMAIL,
		Priority:    priority,
		ScheduledAt: scheduledAt,
	}
	require.Nil(t, store.CreateEmail(item))

	return item
}

func TestDueEmailsOrdering(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	low := queueTestEmail(t, store, DEFAULT_EMAIL_PRIORITY, now.Add(-time.Hour))
	urgentLater := queueTestEmail(t, store, EMERGENCY_EMAIL_PRIORITY, now)
	urgentEarlier := queueTestEmail(t, store, EMERGENCY_EMAIL_PRIORITY, now.Add(-time.Minute))
	queueTestEmail(t, store, EMERGENCY_EMAIL_PRIORITY, now.Add(time.Second))

	due, err := store.DueEmails(now, 10)
	require.Nil(t, err)
	require.Len(t, due, 3, "future rows are not due, rows scheduled exactly now are")
	assert.Equal(t, urgentEarlier.ID, due[0].ID)
	assert.Equal(t, urgentLater.ID, due[1].ID)
	assert.Equal(t, low.ID, due[2].ID)

	due, err = store.DueEmails(now, 1)
	require.Nil(t, err)
	assert.Len(t, due, 1)
}

func TestClaimAndRetryEmail(t *testing.T) {
	store := newTestStore(t)
	item := queueTestEmail(t, store, DEFAULT_EMAIL_PRIORITY, time.Now().UTC())

	claimed, err := store.ClaimEmail(item.ID)
	require.Nil(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimEmail(item.ID)
	require.Nil(t, err)
	assert.False(t, claimed, "a processing row cannot be claimed twice")

	require.Nil(t, store.MarkEmailFailed(item.ID, "provider down"))

	for i := 1; i <= MAX_EMAIL_RETRIES; i++ {
		reset, err := store.ResetFailedEmail(item.ID)
		require.Nil(t, err)
		assert.True(t, reset)

		claimed, err := store.ClaimEmail(item.ID)
		require.Nil(t, err)
		require.True(t, claimed)
		require.Nil(t, store.MarkEmailFailed(item.ID, "provider down"))
	}

	found, err := store.FindEmail(item.ID)
	require.Nil(t, err)
	assert.Equal(t, MAX_EMAIL_RETRIES, found.RetryCount)
	assert.True(t, found.IsTerminal())

	reset, err := store.ResetFailedEmail(item.ID)
	require.Nil(t, err)
	assert.False(t, reset, "terminal rows are never reset")

	retryable, err := store.RetryableEmails(10)
	require.Nil(t, err)
	assert.Empty(t, retryable)

	stats, err := store.EmailQueueStats()
	require.Nil(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Dead)

	dead, paging, err := store.DeadEmails(1)
	require.Nil(t, err)
	assert.Len(t, dead, 1)
	assert.Equal(t, int64(1), paging.Total)
}

func TestMarkEmailSent(t *testing.T) {
	store := newTestStore(t)
	item := queueTestEmail(t, store, DEFAULT_EMAIL_PRIORITY, time.Now().UTC())

	_, err := store.ClaimEmail(item.ID)
	require.Nil(t, err)
	require.Nil(t, store.MarkEmailSent(item.ID, "msg_123"))

	found, err := store.FindEmail(item.ID)
	require.Nil(t, err)
	assert.Equal(t, SENT_EMAIL, found.Status)
	assert.Equal(t, "msg_123", found.ProviderMessageID)
	assert.NotNil(t, found.SentAt)
}

func TestExpireProcessingEmails(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return start })

	item := queueTestEmail(t, store, DEFAULT_EMAIL_PRIORITY, start)
	_, err := store.ClaimEmail(item.ID)
	require.Nil(t, err)

	expired, err := store.ExpireProcessingEmails(start.Add(-time.Minute))
	require.Nil(t, err)
	assert.Equal(t, int64(0), expired, "lease has not run out yet")

	expired, err = store.ExpireProcessingEmails(start.Add(time.Minute))
	require.Nil(t, err)
	assert.Equal(t, int64(1), expired)

	found, err := store.FindEmail(item.ID)
	require.Nil(t, err)
	assert.Equal(t, FAILED_EMAIL, found.Status)
	assert.Equal(t, 0, found.RetryCount)
}
