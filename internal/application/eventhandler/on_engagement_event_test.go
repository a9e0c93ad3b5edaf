package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type captureNotifier struct {
	sent []*notification.Notification
	err  error
}

func (c *captureNotifier) Notify(_ context.Context, n *notification.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func TestNotifyHandler_MapsEventsToNotifications(t *testing.T) {
	tests := []struct {
		name  string
		event shared.Event
		want  notification.Type
	}{
		{"micro-task created", shared.NewMicroTaskCreatedEvent("u1", "t1", "do_mcqs", "Answer 5 MCQs", "c1", 10, testNow.Add(48*time.Hour), testNow), notification.TypeMissedClass},
		{"attendance broken", shared.NewStreakBrokenEvent("u1", "attendance", 5, 20, testNow), notification.TypeStreakBroken},
		{"restored", shared.NewStreakRestoredEvent("u1", 10, 25, []string{"t1", "t2"}, testNow), notification.TypeStreakRestored},
		{"badge", shared.NewBadgeEarnedEvent("u1", "Week Warrior", "7-day streak", "🔥", testNow), notification.TypeBadgeEarned},
		{"grace", shared.NewGraceConsumedEvent("u1", shared.DateOf(testNow, time.UTC), testNow), notification.TypeGraceUsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &captureNotifier{}
			h := NewNotifyHandler(n, nil, DefaultNotifyConfig())

			require.NoError(t, h.Handle(tt.event))
			require.Len(t, n.sent, 1)
			assert.Equal(t, tt.want, n.sent[0].Type)
			assert.Equal(t, shared.UserID("u1"), n.sent[0].UserID)
			assert.NotEmpty(t, n.sent[0].Message)
		})
	}
}

func TestNotifyHandler_SkipsIrrelevantEvents(t *testing.T) {
	n := &captureNotifier{}
	cfg := DefaultNotifyConfig()
	cfg.NotifyOnGrace = false
	h := NewNotifyHandler(n, nil, cfg)

	require.NoError(t, h.Handle(shared.NewStreakBrokenEvent("u1", "task", 3, 3, testNow)))
	require.NoError(t, h.Handle(shared.NewStreakBrokenEvent("u1", "attendance", 0, 3, testNow)))
	require.NoError(t, h.Handle(shared.NewGraceConsumedEvent("u1", shared.DateOf(testNow, time.UTC), testNow)))
	require.NoError(t, h.Handle(shared.NewGraceResetEvent(4, testNow)))
	assert.Empty(t, n.sent)
}

func TestNotifyHandler_SuppressedIsNotAnError(t *testing.T) {
	h := NewNotifyHandler(&captureNotifier{err: shared.ErrNotificationSuppressed}, nil, DefaultNotifyConfig())
	assert.NoError(t, h.Handle(shared.NewStreakRestoredEvent("u1", 10, 25, nil, testNow)))

	boom := errors.New("smtp down")
	h = NewNotifyHandler(&captureNotifier{err: boom}, nil, DefaultNotifyConfig())
	assert.ErrorIs(t, h.Handle(shared.NewStreakRestoredEvent("u1", 10, 25, nil, testNow)), boom)
}

type fakeSubscriber struct{ types []shared.EventType }

func (s *fakeSubscriber) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.types = append(s.types, t)
	return nil
}

func (s *fakeSubscriber) SubscribeAll(shared.EventHandler) error { return nil }

func TestNotifyHandler_Register(t *testing.T) {
	h := NewNotifyHandler(&captureNotifier{}, nil, DefaultNotifyConfig())
	sub := &fakeSubscriber{}
	require.NoError(t, h.Register(sub))
	assert.ElementsMatch(t, h.EventTypes(), sub.types)
}

type offFlags struct{}

func (offFlags) IsEnabled(string) bool { return false }

func TestNotifyHandler_DisabledByFlag(t *testing.T) {
	n := &captureNotifier{}
	cfg := DefaultNotifyConfig()
	cfg.Flags = offFlags{}
	h := NewNotifyHandler(n, nil, cfg)

	require.NoError(t, h.Handle(shared.NewBadgeEarnedEvent("u1", "Week Warrior", "7-day streak", "🔥", testNow)))
	assert.Empty(t, n.sent)
}

type recordingSubscriber struct {
	regular []shared.EventType
	origin  []shared.EventType
}

func (r *recordingSubscriber) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	r.regular = append(r.regular, t)
	return nil
}

func (r *recordingSubscriber) SubscribeAll(shared.EventHandler) error { return nil }

func (r *recordingSubscriber) SubscribeOrigin(t shared.EventType, _ shared.EventHandler) error {
	r.origin = append(r.origin, t)
	return nil
}

func TestNotifyHandler_RegisterPrefersOriginSubscriptions(t *testing.T) {
	h := NewNotifyHandler(&captureNotifier{}, nil, DefaultNotifyConfig())

	sub := &recordingSubscriber{}
	require.NoError(t, h.Register(sub))

	assert.Empty(t, sub.regular)
	assert.ElementsMatch(t, h.EventTypes(), sub.origin)
}
