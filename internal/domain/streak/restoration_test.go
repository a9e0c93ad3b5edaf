package streak

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

func completedTask(t *testing.T, id string, created, completed time.Time) *microtask.MicroTask {
	t.Helper()
	task, err := microtask.New(microtask.NewParams{
		ID:               id,
		UserID:           "student-1",
		Type:             microtask.TypeReadSlides,
		EstimatedMinutes: 10,
		CreatedAt:        created,
	})
	require.NoError(t, err)
	require.NoError(t, task.Complete(completed))
	return task
}

func TestRestore_BelowThresholdIsNoop(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Current: 0, Longest: 20}
	tasks := []*microtask.MicroTask{completedTask(t, "t1", testNow.Add(-time.Hour), testNow)}

	res := l.Restore(tasks, DefaultPolicy(), testNow)

	assert.False(t, res.Applied)
	assert.Equal(t, 1, res.Qualifying)
	assert.Equal(t, 0, l.Attendance.Current)
	assert.Equal(t, 0, l.TotalPoints)
	assert.True(t, tasks[0].StreakRestoreEligible)
	assert.Empty(t, res.Events(l.UserID, testNow))
}

func TestRestore_ExactlyTwoTasks(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Current: 0, Longest: 21}
	tasks := []*microtask.MicroTask{
		completedTask(t, "t1", testNow.Add(-3*time.Hour), testNow.Add(-2*time.Hour)),
		completedTask(t, "t2", testNow.Add(-3*time.Hour), testNow.Add(-time.Hour)),
	}

	res := l.Restore(tasks, DefaultPolicy(), testNow)

	require.True(t, res.Applied)
	assert.Equal(t, 10, l.Attendance.Current, "floor(21 * 0.5)")
	assert.Equal(t, 21, l.Attendance.Longest)
	assert.Equal(t, 25, l.TotalPoints)
	assert.True(t, l.HasBadge(BadgeComebackKid))
	assert.ElementsMatch(t, []string{"t1", "t2"}, res.Consumed)

	again := l.Restore(tasks, DefaultPolicy(), testNow)
	assert.False(t, again.Applied)
	assert.Equal(t, 25, l.TotalPoints)
	assert.Len(t, badgeNames(l), 1)
}

func TestRestore_ConsumesAllQualifyingTasks(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Longest: 10}
	var tasks []*microtask.MicroTask
	for i := 0; i < 4; i++ {
		tasks = append(tasks, completedTask(t, fmt.Sprintf("t%d", i), testNow.Add(-5*time.Hour), testNow.Add(-time.Hour)))
	}

	res := l.Restore(tasks, DefaultPolicy(), testNow)

	require.True(t, res.Applied)
	assert.Len(t, res.Consumed, 4)
	for _, task := range tasks {
		assert.False(t, task.StreakRestoreEligible)
		assert.Equal(t, microtask.StateConsumed, task.State(testNow))
	}
}

func TestRestore_IgnoresCompletionsOutsideWindow(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Longest: 10}
	old := testNow.Add(-47 * time.Hour)
	tasks := []*microtask.MicroTask{
		// Completed 49h ago: outside the 48h window even though not yet expired.
		completedTask(t, "old", old.Add(-2*time.Hour), testNow.Add(-49*time.Hour)),
		completedTask(t, "fresh", testNow.Add(-time.Hour), testNow),
	}
	tasks[0].ExpiresAt = testNow.Add(time.Hour)

	res := l.Restore(tasks, DefaultPolicy(), testNow)

	assert.False(t, res.Applied)
	assert.Equal(t, 1, res.Qualifying)
}

func TestRestore_CompletionAfterExpiryNeverCounts(t *testing.T) {
	created := testNow.Add(-10 * time.Hour)
	late, err := microtask.New(microtask.NewParams{
		ID: "late", UserID: "student-1", Type: microtask.TypeDoMCQs, EstimatedMinutes: 10, CreatedAt: created,
	})
	require.NoError(t, err)
	completedAt := late.ExpiresAt.Add(time.Second)
	late.Completed = true
	late.CompletedAt = &completedAt

	ontime := completedTask(t, "ontime", created, created.Add(time.Hour))

	at := completedAt.Add(time.Minute)
	for _, now := range []time.Time{at, created.Add(time.Hour)} {
		assert.False(t, late.QualifiesForRestore(now, 48*time.Hour))
	}

	l := newTestLedger(t)
	l.Attendance = TrackState{Longest: 8}
	res := l.Restore([]*microtask.MicroTask{late, ontime}, DefaultPolicy(), created.Add(2*time.Hour))
	assert.False(t, res.Applied)
	assert.True(t, late.StreakRestoreEligible)
}

func TestRestore_EndToEnd(t *testing.T) {
	policy := DefaultPolicy()
	l := newTestLedger(t)
	l.Attendance = TrackState{Current: 5, Longest: 20, LastUpdated: day(5)}
	pointsBefore := l.TotalPoints

	// Day 6 missed with no grace available.
	g, err := NewGraceState(l.UserID, testNow)
	require.NoError(t, err)
	g.UsedThisWeek = true
	consumed := g.TryConsume(day(6), testNow)
	out, err := l.UpdateStreak(UpdateInput{Track: TrackAttendance, OccurredOn: day(6), GraceConsumed: consumed}, policy, testNow)
	require.NoError(t, err)
	require.True(t, out.Broken)
	require.Equal(t, 0, l.Attendance.Current)

	missAt := day(6).Midnight(time.UTC).Add(18 * time.Hour)
	tasks := []*microtask.MicroTask{
		completedTask(t, "m1", missAt, missAt.Add(3*time.Hour)),
		completedTask(t, "m2", missAt, missAt.Add(20*time.Hour)),
	}

	res := l.Restore(tasks, policy, missAt.Add(20*time.Hour))
	require.True(t, res.Applied)
	assert.Equal(t, 10, l.Attendance.Current)
	assert.Equal(t, pointsBefore+25, l.TotalPoints)
	assert.True(t, l.HasBadge(BadgeComebackKid))

	events := res.Events(l.UserID, testNow)
	require.Len(t, events, 2)
	assert.Equal(t, shared.EventStreakRestored, events[0].EventType())
	assert.Equal(t, shared.EventBadgeEarned, events[1].EventType())

	third := completedTask(t, "m3", missAt, missAt.Add(30*time.Hour))
	tasks = append(tasks, third)
	again := l.Restore(tasks, policy, missAt.Add(30*time.Hour))
	assert.False(t, again.Applied)
	assert.Equal(t, 10, l.Attendance.Current)
	assert.Equal(t, pointsBefore+25, l.TotalPoints)
	assert.Equal(t, 1, l.Restorations)
}
