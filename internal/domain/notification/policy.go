package notification

import (
	"fmt"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUIET HOURS
// ══════════════════════════════════════════════════════════════════════════════

// QuietHours - окно "не беспокоить" [Start, End) в часах локального времени.
// Окно может переходить через полночь (22-7). Start == End - окно пустое.
type QuietHours struct {
	Start    int
	End      int
	Location *time.Location
}

// NewQuietHours создаёт окно тихих часов.
func NewQuietHours(start, end int, loc *time.Location) (QuietHours, error) {
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return QuietHours{}, shared.NewDomainError("notification", "QuietHours", shared.ErrValueOutOfRange, fmt.Sprintf("hours must be 0-23, got %d-%d", start, end))
	}
	if loc == nil {
		loc = time.UTC
	}
	return QuietHours{Start: start, End: end, Location: loc}, nil
}

// Contains проверяет, попадает ли момент в тихие часы.
func (q QuietHours) Contains(t time.Time) bool {
	return timeutil.InHourWindow(t, q.Location, q.Start, q.End)
}

// NextAllowed возвращает ближайший момент, когда отправка разрешена.
func (q QuietHours) NextAllowed(t time.Time) time.Time {
	if !q.Contains(t) {
		return t
	}
	return timeutil.NextHourBoundary(t, q.Location, q.End)
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY CAP
// ══════════════════════════════════════════════════════════════════════════════

// DailyCap - максимум уведомлений одному пользователю за календарный день.
// Ноль отключает лимит.
type DailyCap struct {
	Max      int
	Location *time.Location
}

// IsExceeded проверяет счётчик после инкремента.
func (c DailyCap) IsExceeded(countAfterIncrement int64) bool {
	return c.Max > 0 && countAfterIncrement > int64(c.Max)
}

// Key возвращает ключ счётчика для пользователя и дня.
func (c DailyCap) Key(userID shared.UserID, t time.Time) string {
	return userID.String() + ":" + shared.DateOf(t, c.Location).String()
}

// TTL возвращает время жизни счётчика до конца дня.
func (c DailyCap) TTL(t time.Time) time.Duration {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	end := timeutil.StartOfDay(t, loc).AddDate(0, 0, 1)
	return end.Sub(t)
}
