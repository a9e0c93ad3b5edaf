// Package attendance описывает внешние источники данных, которые потребляет
// движок серий: профиль пользователя (персона мотивации) и поток
// пропущенных занятий из расписания.
package attendance

import (
	"context"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// MissedClass - занятие, на котором пользователь не отметился.
type MissedClass struct {
	UserID shared.UserID `json:"user_id"`

	// ClassRef - идентификатор занятия в расписании.
	ClassRef string `json:"class_ref"`

	// ClassTitle - название занятия для текста микро-задачи.
	ClassTitle string `json:"class_title"`

	// ScheduledAt - время начала занятия.
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Feed отдаёт пропущенные занятия, начавшиеся в [from, to).
// Повторная выдача одного и того же занятия допустима.
type Feed interface {
	MissedBetween(ctx context.Context, from, to time.Time) ([]MissedClass, error)
}

// Profile - данные пользователя, нужные движку.
type Profile struct {
	UserID shared.UserID `json:"user_id"`

	// Persona - стиль мотивации: hustler, anxious, busy, skeptic.
	Persona string `json:"persona"`

	// MotivationStyle - свободное описание, используется в текстах уведомлений.
	MotivationStyle string `json:"motivation_style,omitempty"`
}

// Directory возвращает профили пользователей.
// Отсутствующий профиль - не ошибка: возвращается профиль с пустой персоной.
type Directory interface {
	Profile(ctx context.Context, userID shared.UserID) (Profile, error)
}
