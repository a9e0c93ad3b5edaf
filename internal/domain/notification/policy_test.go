package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

func TestQuietHours_WrapsMidnight(t *testing.T) {
	q, err := NewQuietHours(22, 7, time.UTC)
	require.NoError(t, err)

	at := func(h, m int) time.Time { return time.Date(2026, 10, 15, h, m, 0, 0, time.UTC) }

	assert.False(t, q.Contains(at(21, 59)))
	assert.True(t, q.Contains(at(22, 0)), "start is inclusive")
	assert.True(t, q.Contains(at(3, 0)))
	assert.True(t, q.Contains(at(6, 59)))
	assert.False(t, q.Contains(at(7, 0)), "end is exclusive")

	assert.Equal(t, at(7, 0), q.NextAllowed(at(3, 30)))
	assert.Equal(t, at(12, 0), q.NextAllowed(at(12, 0)))
}

func TestQuietHours_EmptyWhenEqual(t *testing.T) {
	q, err := NewQuietHours(9, 9, nil)
	require.NoError(t, err)

	for h := 0; h < 24; h++ {
		assert.False(t, q.Contains(time.Date(2026, 10, 15, h, 0, 0, 0, time.UTC)))
	}
}

func TestQuietHours_RejectsBadHours(t *testing.T) {
	_, err := NewQuietHours(24, 7, time.UTC)
	assert.True(t, shared.IsValidation(err))
}

func TestDailyCap(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	c := DailyCap{Max: 3, Location: almaty}
	now := time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC) // 01:00 on Oct 16 in Almaty

	assert.False(t, c.IsExceeded(3))
	assert.True(t, c.IsExceeded(4))
	assert.Equal(t, "u1:2026-10-16", c.Key("u1", now))
	assert.Equal(t, 23*time.Hour, c.TTL(now))
	assert.False(t, DailyCap{}.IsExceeded(1000))
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification(NewNotificationParams{ID: "n1", Type: TypeBadgeEarned, UserID: "u1", Message: "hi", Now: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, n.Priority)

	_, err = NewNotification(NewNotificationParams{Type: "sms", UserID: "u1", Message: "hi"})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = NewNotification(NewNotificationParams{Type: TypeWeeklyReport, UserID: "u1", Message: " "})
	assert.True(t, shared.IsValidation(err))
}
