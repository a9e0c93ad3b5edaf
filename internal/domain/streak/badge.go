package streak

import (
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// Названия бейджей.
const (
	BadgeWeekWarrior   = "Week Warrior"
	BadgeMonthlyMaster = "Monthly Master"
	BadgeTaskTackler   = "Task Tackler"
	BadgeCenturyClub   = "Century Club"
	BadgeComebackKid   = "Comeback Kid"
)

// Badge - полученное достижение. Никогда не удаляется.
type Badge struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earned_at"`
	Icon        string    `json:"icon"`
}

// BadgeRule - условие получения бейджа.
type BadgeRule struct {
	Name        string
	Description string
	Icon        string
	Qualifies   func(l *Ledger) bool
}

// BadgeRules - таблица правил в порядке проверки.
var BadgeRules = []BadgeRule{
	{
		Name:        BadgeWeekWarrior,
		Description: "Attended classes 7 days in a row",
		Icon:        "🔥",
		Qualifies:   func(l *Ledger) bool { return l.Attendance.Current >= 7 },
	},
	{
		Name:        BadgeMonthlyMaster,
		Description: "Attended classes 30 days in a row",
		Icon:        "🏆",
		Qualifies:   func(l *Ledger) bool { return l.Attendance.Current >= 30 },
	},
	{
		Name:        BadgeTaskTackler,
		Description: "Completed tasks 7 days in a row",
		Icon:        "✅",
		Qualifies:   func(l *Ledger) bool { return l.Task.Current >= 7 },
	},
	{
		Name:        BadgeCenturyClub,
		Description: "Earned 100 points",
		Icon:        "💯",
		Qualifies:   func(l *Ledger) bool { return l.TotalPoints >= 100 },
	},
	{
		Name:        BadgeComebackKid,
		Description: "Restored a broken streak with micro-tasks",
		Icon:        "🌱",
		Qualifies:   func(l *Ledger) bool { return l.Restorations >= 1 },
	},
}

// HasBadge проверяет наличие бейджа по имени.
func (l *Ledger) HasBadge(name string) bool {
	for _, b := range l.Badges {
		if b.Name == name {
			return true
		}
	}
	return false
}

// EvaluateBadges добавляет в журнал все новые заслуженные бейджи
// и возвращает только добавленные. Повторный вызов на неизменном
// журнале ничего не добавляет.
func EvaluateBadges(l *Ledger, now time.Time) []Badge {
	var earned []Badge
	for _, rule := range BadgeRules {
		if l.HasBadge(rule.Name) || !rule.Qualifies(l) {
			continue
		}
		b := Badge{
			Name:        rule.Name,
			Description: rule.Description,
			EarnedAt:    now,
			Icon:        rule.Icon,
		}
		l.Badges = append(l.Badges, b)
		earned = append(earned, b)
	}
	if len(earned) > 0 {
		l.UpdatedAt = now
	}
	return earned
}

// BadgeEvents строит события badge.earned.
func BadgeEvents(userID shared.UserID, badges []Badge, now time.Time) []shared.Event {
	events := make([]shared.Event, 0, len(badges))
	for _, b := range badges {
		events = append(events, shared.NewBadgeEarnedEvent(userID.String(), b.Name, b.Description, b.Icon, now))
	}
	return events
}
