package streak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func badgeNames(l *Ledger) []string {
	names := make([]string, 0, len(l.Badges))
	for _, b := range l.Badges {
		names = append(names, b.Name)
	}
	return names
}

func TestEvaluateBadges_Thresholds(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Current: 30, Longest: 30}
	l.Task = TrackState{Current: 7, Longest: 7}
	l.TotalPoints = 100

	earned := EvaluateBadges(l, testNow)

	assert.Len(t, earned, 4)
	assert.Equal(t, []string{BadgeWeekWarrior, BadgeMonthlyMaster, BadgeTaskTackler, BadgeCenturyClub}, badgeNames(l))
	for _, b := range earned {
		assert.Equal(t, testNow, b.EarnedAt)
		assert.NotEmpty(t, b.Description)
	}
}

func TestEvaluateBadges_BelowThresholds(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Current: 6, Longest: 6}
	l.Task = TrackState{Current: 6, Longest: 6}
	l.TotalPoints = 99

	assert.Empty(t, EvaluateBadges(l, testNow))
	assert.Empty(t, l.Badges)
}

func TestEvaluateBadges_Idempotent(t *testing.T) {
	l := newTestLedger(t)
	l.Attendance = TrackState{Current: 7, Longest: 7}

	first := EvaluateBadges(l, testNow)
	second := EvaluateBadges(l, testNow)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Equal(t, []string{BadgeWeekWarrior}, badgeNames(l))
}

func TestEvaluateBadges_BadgesSurviveReset(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 7; i++ {
		attend(t, l, day(i), true, false)
	}
	assert.True(t, l.HasBadge(BadgeWeekWarrior))

	attend(t, l, day(7), false, false)

	assert.Equal(t, 0, l.Attendance.Current)
	assert.True(t, l.HasBadge(BadgeWeekWarrior))
}

func TestUpdateStreak_EarnsBadgeOnSeventhDay(t *testing.T) {
	l := newTestLedger(t)
	var out Outcome
	for i := 0; i < 7; i++ {
		out = attend(t, l, day(i), true, false)
	}

	assert.Len(t, out.NewBadges, 1)
	assert.Equal(t, BadgeWeekWarrior, out.NewBadges[0].Name)
	assert.Len(t, out.Events(l, testNow), 2)
}
