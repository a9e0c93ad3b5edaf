package streak

import (
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// RestorationResult - итог попытки восстановления серии.
type RestorationResult struct {
	// Applied - восстановление выполнено.
	Applied bool

	// Qualifying - сколько задач подходило на момент проверки.
	Qualifying int

	PreviousCurrent int
	RestoredTo      int
	BonusPoints     int

	// Consumed - ID задач, помеченных потраченными.
	Consumed []string

	NewBadges []Badge
}

// QualifyingTasks отбирает задачи, засчитываемые в восстановление.
func QualifyingTasks(tasks []*microtask.MicroTask, policy Policy, now time.Time) []*microtask.MicroTask {
	var out []*microtask.MicroTask
	for _, t := range tasks {
		if t != nil && t.QualifiesForRestore(now, policy.RestoreWindow) {
			out = append(out, t)
		}
	}
	return out
}

// Restore восстанавливает серию посещаемости, если подходящих задач не меньше
// порога. Серия становится равной половине лучшей серии (с округлением вниз),
// начисляется бонус, а все подходящие задачи расходуются. Переданные задачи
// изменяются на месте, вызывающий сохраняет их вместе с журналом.
func (l *Ledger) Restore(tasks []*microtask.MicroTask, policy Policy, now time.Time) RestorationResult {
	qualifying := QualifyingTasks(tasks, policy, now)
	res := RestorationResult{
		Qualifying:      len(qualifying),
		PreviousCurrent: l.Attendance.Current,
	}
	if len(qualifying) < policy.RestoreThreshold {
		return res
	}

	l.Attendance.Current = l.Attendance.Longest / 2
	l.TotalPoints += policy.RestoreBonus
	l.Restorations++
	l.UpdatedAt = now

	for _, t := range qualifying {
		t.ConsumeForRestore()
		res.Consumed = append(res.Consumed, t.ID)
	}

	res.Applied = true
	res.RestoredTo = l.Attendance.Current
	res.BonusPoints = policy.RestoreBonus
	res.NewBadges = EvaluateBadges(l, now)
	return res
}

// Events возвращает события восстановления.
func (r RestorationResult) Events(userID shared.UserID, now time.Time) []shared.Event {
	if !r.Applied {
		return nil
	}
	events := []shared.Event{
		shared.NewStreakRestoredEvent(userID.String(), r.RestoredTo, r.BonusPoints, r.Consumed, now),
	}
	return append(events, BadgeEvents(userID, r.NewBadges, now)...)
}
