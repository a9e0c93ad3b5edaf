package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/application/engagement"
	"github.com/alem-hub/streak-engine/internal/application/query"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

// ═══════════════════════════════════════════════════════════════════════════
// ATTENDANCE SWEEP
// ═══════════════════════════════════════════════════════════════════════════

type failingFeed struct{}

func (failingFeed) MissedBetween(context.Context, time.Time, time.Time) ([]attendance.MissedClass, error) {
	return nil, errors.New("timetable down")
}

type recordingHandler struct {
	mu      sync.Mutex
	seen    []attendance.MissedClass
	failFor shared.UserID
}

func (h *recordingHandler) HandleMissedClass(_ context.Context, m attendance.MissedClass) (*engagement.MissedClassResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, m)
	if m.UserID == h.failFor {
		return nil, fmt.Errorf("handler failed for %s", m.UserID)
	}
	return &engagement.MissedClassResult{
		Attendance: &command.RecordMissedAttendanceResult{GraceConsumed: true},
		Task:       &command.CreateMicroTaskResult{Created: true},
	}, nil
}

func (h *recordingHandler) refsFor(userID shared.UserID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var refs []string
	for _, m := range h.seen {
		if m.UserID == userID {
			refs = append(refs, m.ClassRef)
		}
	}
	return refs
}

func missed(user, ref string, at time.Time) attendance.MissedClass {
	return attendance.MissedClass{UserID: shared.UserID(user), ClassRef: ref, ClassTitle: "Class " + ref, ScheduledAt: at}
}

func TestAttendanceSweep_WindowAndOrdering(t *testing.T) {
	clock := timeutil.NewFixedClock(testNow)
	tt := memory.NewTimetable()
	tt.AddMissed(missed("alice", "c2", testNow.Add(-2*time.Hour)))
	tt.AddMissed(missed("alice", "c1", testNow.Add(-5*time.Hour)))
	tt.AddMissed(missed("bob", "c3", testNow.Add(-time.Hour)))
	tt.AddMissed(missed("bob", "old", testNow.Add(-48*time.Hour)))

	h := &recordingHandler{failFor: "bob"}
	job := NewAttendanceSweepJob(tt, h, clock, nil, AttendanceSweepConfig{})

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []string{"c1", "c2"}, h.refsFor("alice"))
	assert.Equal(t, []string{"c3"}, h.refsFor("bob"))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Classes)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.TasksCreated)
	assert.True(t, job.Watermark().Equal(testNow))

	// Next run only sees classes after the watermark.
	tt.AddMissed(missed("alice", "c4", testNow.Add(30*time.Minute)))
	clock.Advance(time.Hour)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"c1", "c2", "c4"}, h.refsFor("alice"))
	assert.Equal(t, 1, job.LastStats().Classes)
}

func TestAttendanceSweep_FeedErrorKeepsWatermark(t *testing.T) {
	job := NewAttendanceSweepJob(failingFeed{}, &recordingHandler{}, timeutil.NewFixedClock(testNow), nil, AttendanceSweepConfig{})

	err := job.Run(context.Background())
	assert.ErrorContains(t, err, "timetable down")
	assert.True(t, job.Watermark().IsZero())
	assert.Nil(t, job.LastStats())
}

func TestAttendanceSweep_WithEngagementService(t *testing.T) {
	clock := timeutil.NewFixedClock(testNow)
	store := memory.NewStore()
	tt := memory.NewTimetable()
	svc := engagement.NewService(engagement.Config{
		Deps:      command.Deps{Store: store, Clock: clock, Location: time.UTC},
		Directory: tt,
	})

	// Monday and Tuesday of the same week.
	tt.AddMissed(missed("alice", "mon-algo", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	tt.AddMissed(missed("alice", "tue-algo", time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)))

	job := NewAttendanceSweepJob(tt, svc, clock, nil, AttendanceSweepConfig{Lookback: 7 * 24 * time.Hour})
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastStats()
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.GraceConsumed)
	assert.Equal(t, 2, stats.TasksCreated)

	tasks, err := svc.ListMicroTasks(context.Background(), "alice", true)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	// A replay of the same window issues nothing new.
	replay := NewAttendanceSweepJob(tt, svc, clock, nil, AttendanceSweepConfig{Lookback: 7 * 24 * time.Hour})
	require.NoError(t, replay.Run(context.Background()))
	assert.Zero(t, replay.LastStats().TasksCreated)

	tasks, err = svc.ListMicroTasks(context.Background(), "alice", true)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

// ═══════════════════════════════════════════════════════════════════════════
// WEEKLY GRACE RESET
// ═══════════════════════════════════════════════════════════════════════════

type stubResetter struct {
	n   int64
	err error
}

func (r stubResetter) ResetWeeklyGrace(context.Context) (int64, error) { return r.n, r.err }

func TestWeeklyGraceReset(t *testing.T) {
	job := NewWeeklyGraceResetJob(stubResetter{n: 3})
	assert.Equal(t, "weekly_grace_reset", job.Name())
	assert.NoError(t, job.Run(context.Background()))

	failing := NewWeeklyGraceResetJob(stubResetter{err: shared.ErrServiceUnavailable})
	assert.ErrorIs(t, failing.Run(context.Background()), shared.ErrServiceUnavailable)
}

// ═══════════════════════════════════════════════════════════════════════════
// WEEKLY REPORT
// ═══════════════════════════════════════════════════════════════════════════

type stubSummaries map[shared.UserID]*query.WeeklySummaryDTO

func (s stubSummaries) UserIDs(context.Context) ([]shared.UserID, error) {
	ids := make([]shared.UserID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s stubSummaries) WeeklySummary(_ context.Context, userID shared.UserID) (*query.WeeklySummaryDTO, error) {
	sum, ok := s[userID]
	if !ok || sum == nil {
		return nil, shared.ErrNotFound
	}
	return sum, nil
}

type captureNotifier struct {
	mu       sync.Mutex
	sent     []*notification.Notification
	suppress shared.UserID
}

func (n *captureNotifier) Notify(_ context.Context, msg *notification.Notification) error {
	if msg.UserID == n.suppress {
		return fmt.Errorf("%w: quiet hours", shared.ErrNotificationSuppressed)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type mapFlags map[string]bool

func (f mapFlags) IsEnabled(name string) bool { return f[name] }

func activeWeek(user string) *query.WeeklySummaryDTO {
	return &query.WeeklySummaryDTO{
		UserID:              shared.UserID(user),
		WeekStart:           shared.MustParseDate("2026-03-02"),
		Attendance:          streak.TrackState{Current: 3, Longest: 5},
		TotalPoints:         30,
		BadgesThisWeek:      []streak.Badge{{Name: "Week Warrior", Icon: "🔥"}},
		MicroTasksCompleted: 2,
	}
}

func TestWeeklyReport_SendsNonEmptySummaries(t *testing.T) {
	src := stubSummaries{
		"alice": activeWeek("alice"),
		"bob":   {UserID: "bob", WeekStart: shared.MustParseDate("2026-03-02")},
		"carol": activeWeek("carol"),
		"dave":  nil,
	}
	notifier := &captureNotifier{suppress: "carol"}
	job := NewWeeklyReportJob(src, notifier, mapFlags{FlagWeeklyReport: true}, timeutil.NewFixedClock(testNow), nil, DefaultWeeklyReportConfig())

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, notifier.sent, 1)
	msg := notifier.sent[0]
	assert.Equal(t, shared.UserID("alice"), msg.UserID)
	assert.Equal(t, notification.TypeWeeklyReport, msg.Type)
	assert.Contains(t, msg.Message, "Attendance streak: 3 (best 5)")
	assert.Contains(t, msg.Message, "Week Warrior")
	assert.Contains(t, msg.Message, "Micro-tasks completed: 2")

	assert.Equal(t, ReportStats{Users: 4, Sent: 1, Empty: 1, Suppressed: 1, Failed: 1}, job.LastStats())
}

func TestWeeklyReport_DisabledByFlag(t *testing.T) {
	notifier := &captureNotifier{}
	job := NewWeeklyReportJob(stubSummaries{"alice": activeWeek("alice")}, notifier, mapFlags{}, nil, nil, DefaultWeeklyReportConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, notifier.sent)
}

func TestFormatWeeklySummary(t *testing.T) {
	sum := activeWeek("alice")
	sum.GraceUsed = true
	text := FormatWeeklySummary(sum)

	assert.Contains(t, text, "Week of Mar 2")
	assert.Contains(t, text, "Points: 30")
	assert.Contains(t, text, "Grace day used this week.")
}
