package streak

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger("student-1", testNow)
	require.NoError(t, err)
	return l
}

func day(n int) shared.Date {
	return shared.MustParseDate("2026-10-01").AddDays(n)
}

func attend(t *testing.T, l *Ledger, d shared.Date, success, grace bool) Outcome {
	t.Helper()
	out, err := l.UpdateStreak(UpdateInput{Track: TrackAttendance, OccurredOn: d, Success: success, GraceConsumed: grace}, DefaultPolicy(), testNow)
	require.NoError(t, err)
	return out
}

func TestUpdateStreak_LongestIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, track := range AllTracks() {
		l := newTestLedger(t)
		prevLongest := 0
		for i := 0; i < 200; i++ {
			// Occasionally repeat or go back a day to exercise duplicates.
			d := day(i - rng.Intn(2))
			_, err := l.UpdateStreak(UpdateInput{
				Track:         track,
				OccurredOn:    d,
				Success:       rng.Intn(3) > 0,
				GraceConsumed: rng.Intn(4) == 0,
			}, DefaultPolicy(), testNow)
			require.NoError(t, err)

			ts, _ := l.TrackState(track)
			assert.GreaterOrEqual(t, ts.Longest, prevLongest)
			assert.LessOrEqual(t, ts.Current, ts.Longest)
			prevLongest = ts.Longest
		}
	}
}

func TestUpdateStreak_SameDayIsIdempotent(t *testing.T) {
	l := newTestLedger(t)

	first := attend(t, l, day(1), true, false)
	second := attend(t, l, day(1), true, false)

	assert.True(t, first.Incremented)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, l.Attendance.Current)
	assert.Equal(t, 10, l.TotalPoints, "points are awarded once per track and day")
}

func TestUpdateStreak_EarlierDayIsIgnored(t *testing.T) {
	l := newTestLedger(t)
	attend(t, l, day(5), true, false)

	out := attend(t, l, day(3), false, false)

	assert.True(t, out.Duplicate)
	assert.Equal(t, 1, l.Attendance.Current)
	assert.Equal(t, day(5), l.Attendance.LastUpdated, "lastUpdated never moves backward")
}

func TestUpdateStreak_GracePreservesStreak(t *testing.T) {
	for _, tc := range []struct {
		name    string
		grace   bool
		current int
	}{
		{name: "with grace", grace: true, current: 4},
		{name: "without grace", grace: false, current: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger(t)
			for i := 0; i < 4; i++ {
				attend(t, l, day(i), true, false)
			}

			out := attend(t, l, day(4), false, tc.grace)

			assert.Equal(t, tc.current, l.Attendance.Current)
			assert.Equal(t, 4, l.Attendance.Longest)
			assert.Equal(t, tc.grace, out.GracePreserved)
			assert.Equal(t, !tc.grace, out.Broken)
			assert.Equal(t, day(4), l.Attendance.LastUpdated)
		})
	}
}

func TestUpdateStreak_TracksAreIndependent(t *testing.T) {
	l := newTestLedger(t)
	attend(t, l, day(1), true, false)
	_, err := l.UpdateStreak(UpdateInput{Track: TrackTask, OccurredOn: day(1), Success: true}, DefaultPolicy(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, l.Attendance.Current)
	assert.Equal(t, 1, l.Task.Current)
	assert.Equal(t, 15, l.TotalPoints)
}

func TestUpdateStreak_RejectsInvalidInput(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.UpdateStreak(UpdateInput{Track: "sleep", OccurredOn: day(1), Success: true}, DefaultPolicy(), testNow)
	assert.ErrorIs(t, err, shared.ErrUnknownTrack)
	assert.True(t, shared.IsValidation(err))

	_, err = l.UpdateStreak(UpdateInput{Track: TrackTask, Success: true}, DefaultPolicy(), testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidDate)
}

func TestParseTrack(t *testing.T) {
	tr, err := ParseTrack(" Attendance ")
	require.NoError(t, err)
	assert.Equal(t, TrackAttendance, tr)

	_, err = ParseTrack("gym")
	assert.ErrorIs(t, err, shared.ErrUnknownTrack)
}

func TestOutcome_Events(t *testing.T) {
	l := newTestLedger(t)
	attend(t, l, day(0), true, false)

	out := attend(t, l, day(1), false, false)
	events := out.Events(l, testNow)
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventStreakBroken, events[0].EventType())
	assert.Equal(t, 1, events[0].Payload()["previous_streak"])

	dup := attend(t, l, day(1), true, false)
	assert.Empty(t, dup.Events(l, testNow))
}

func TestLedger_CloneIsDeep(t *testing.T) {
	l := newTestLedger(t)
	l.Badges = append(l.Badges, Badge{Name: BadgeWeekWarrior})

	c := l.Clone()
	c.Badges[0].Name = "changed"
	c.Attendance.Current = 9

	assert.Equal(t, BadgeWeekWarrior, l.Badges[0].Name)
	assert.Equal(t, 0, l.Attendance.Current)
}
