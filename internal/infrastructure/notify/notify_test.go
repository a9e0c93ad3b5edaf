package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

func testNotification(t *testing.T, userID string) *notification.Notification {
	t.Helper()
	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:      "n-1",
		Type:    notification.TypeBadgeEarned,
		UserID:  shared.UserID(userID),
		Title:   "Week Warrior",
		Message: "7 days in a row",
		Now:     time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// ═══════════════════════════════════════════════════════════════════════════
// GATE
// ═══════════════════════════════════════════════════════════════════════════

func TestGate_QuietHoursAreHalfOpen(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC))
	quiet, err := notification.NewQuietHours(22, 7, time.UTC)
	require.NoError(t, err)

	next := &recordingNotifier{}
	gate := NewGate(next, GateConfig{QuietHours: quiet, Clock: clock})
	ctx := context.Background()

	err = gate.Notify(ctx, testNotification(t, "u1"))
	assert.True(t, notification.IsSuppressed(err))

	clock.Set(time.Date(2026, 3, 5, 6, 59, 0, 0, time.UTC))
	assert.True(t, notification.IsSuppressed(gate.Notify(ctx, testNotification(t, "u1"))))

	clock.Set(time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC))
	require.NoError(t, gate.Notify(ctx, testNotification(t, "u1")))

	clock.Set(time.Date(2026, 3, 5, 21, 59, 0, 0, time.UTC))
	require.NoError(t, gate.Notify(ctx, testNotification(t, "u1")))

	assert.Equal(t, 2, next.count())
}

func TestGate_DailyCapPerUser(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	next := &recordingNotifier{}
	gate := NewGate(next, GateConfig{
		DailyCap: notification.DailyCap{Max: 2, Location: time.UTC},
		Clock:    clock,
	})
	ctx := context.Background()

	require.NoError(t, gate.Notify(ctx, testNotification(t, "u1")))
	require.NoError(t, gate.Notify(ctx, testNotification(t, "u1")))
	assert.True(t, notification.IsSuppressed(gate.Notify(ctx, testNotification(t, "u1"))))

	// Other users have their own budget.
	require.NoError(t, gate.Notify(ctx, testNotification(t, "u2")))

	// A new day resets the count.
	clock.Set(time.Date(2026, 3, 5, 0, 0, 1, 0, time.UTC))
	require.NoError(t, gate.Notify(ctx, testNotification(t, "u1")))

	assert.Equal(t, 4, next.count())
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func (brokenCounter) Decr(context.Context, string) error { return errors.New("redis down") }

func TestGate_CounterFailureLetsNotificationThrough(t *testing.T) {
	next := &recordingNotifier{}
	gate := NewGate(next, GateConfig{
		DailyCap: notification.DailyCap{Max: 1},
		Counter:  brokenCounter{},
	})

	require.NoError(t, gate.Notify(context.Background(), testNotification(t, "u1")))
	require.NoError(t, gate.Notify(context.Background(), testNotification(t, "u1")))
	assert.Equal(t, 2, next.count())
}

func TestGate_RateLimiterHonoursContext(t *testing.T) {
	next := &recordingNotifier{}
	gate := NewGate(next, GateConfig{RatePerSecond: 0.001, Burst: 1})

	require.NoError(t, gate.Notify(context.Background(), testNotification(t, "u1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := gate.Notify(ctx, testNotification(t, "u1"))
	require.Error(t, err)
	assert.False(t, notification.IsSuppressed(err))
	assert.Equal(t, 1, next.count())
}

type flakyNotifier struct {
	recordingNotifier
	failures int
}

func (f *flakyNotifier) Notify(ctx context.Context, n *notification.Notification) error {
	if f.failures > 0 {
		f.failures--
		return shared.ErrNotificationFailed
	}
	return f.recordingNotifier.Notify(ctx, n)
}

func TestGate_FailedDeliveryDoesNotUseDailyCap(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	next := &flakyNotifier{failures: 2}
	gate := NewGate(next, GateConfig{
		DailyCap: notification.DailyCap{Max: 1, Location: time.UTC},
		Clock:    clock,
	})
	ctx := context.Background()

	assert.ErrorIs(t, gate.Notify(ctx, testNotification(t, "u1")), shared.ErrNotificationFailed)
	assert.ErrorIs(t, gate.Notify(ctx, testNotification(t, "u1")), shared.ErrNotificationFailed)

	require.NoError(t, gate.Notify(ctx, testNotification(t, "u1")))
	assert.True(t, notification.IsSuppressed(gate.Notify(ctx, testNotification(t, "u1"))))
	assert.Equal(t, 1, next.count())
}

func TestGate_RateLimitedSendDoesNotUseDailyCap(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	counter := NewMemoryCounter(clock)
	dailyCap := notification.DailyCap{Max: 5, Location: time.UTC}
	gate := NewGate(&recordingNotifier{}, GateConfig{
		DailyCap:      dailyCap,
		Counter:       counter,
		RatePerSecond: 0.001,
		Burst:         1,
		Clock:         clock,
	})

	require.NoError(t, gate.Notify(context.Background(), testNotification(t, "u1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, gate.Notify(ctx, testNotification(t, "u1")))

	n, err := counter.Incr(context.Background(), dailyCap.Key("u1", clock.Now()), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "only the delivered notification was counted")
}

func TestMemoryCounter_Expires(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	c := NewMemoryCounter(clock)
	ctx := context.Background()

	n, _ := c.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)
	n, _ = c.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.Decr(ctx, "k"))
	n, _ = c.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), n)

	clock.Advance(time.Minute)
	require.NoError(t, c.Decr(ctx, "k"), "an expired key is not revived")
	n, _ = c.Incr(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)
}

// ═══════════════════════════════════════════════════════════════════════════
// WEBHOOK
// ═══════════════════════════════════════════════════════════════════════════

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(DefaultWebhookConfig(srv.URL))
	require.NoError(t, w.Notify(context.Background(), testNotification(t, "u1")))

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, string(notification.TypeBadgeEarned), got.Type)
	assert.Equal(t, "high", got.Priority)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultWebhookConfig(srv.URL)
	cfg.MaxAttempts = 3
	w := NewWebhookNotifier(cfg)

	require.NoError(t, w.Notify(context.Background(), testNotification(t, "u1")))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(DefaultWebhookConfig(srv.URL))
	err := w.Notify(context.Background(), testNotification(t, "u1"))

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotificationFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifier_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultWebhookConfig(srv.URL)
	cfg.BreakerThreshold = 2
	cfg.BreakerCoolDown = time.Hour
	w := NewWebhookNotifier(cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.Error(t, w.Notify(ctx, testNotification(t, "u1")))
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), testNotification(t, "u1")))
}
