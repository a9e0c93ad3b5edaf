package streak

import (
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// GraceState - недельное право на один пропуск без потери серии.
type GraceState struct {
	UserID shared.UserID `json:"user_id"`

	// UsedThisWeek - право уже использовано в текущем недельном цикле.
	UsedThisWeek bool `json:"grace_used_this_week"`

	// LastGraceDate - день последнего использования, или нулевая дата.
	LastGraceDate shared.Date `json:"last_grace_date"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewGraceState создаёт неиспользованное состояние.
func NewGraceState(userID shared.UserID, now time.Time) (*GraceState, error) {
	if err := userID.Validate(); err != nil {
		return nil, err
	}
	return &GraceState{UserID: userID, UpdatedAt: now}, nil
}

// Consume тратит право на пропуск. Повторная трата до сброса - конфликт.
func (g *GraceState) Consume(today shared.Date, now time.Time) error {
	if today.IsZero() {
		return shared.ErrInvalidDate
	}
	if g.UsedThisWeek {
		return shared.ErrGraceAlreadyUsed
	}
	g.UsedThisWeek = true
	g.LastGraceDate = today
	g.UpdatedAt = now
	return nil
}

// TryConsume - вариант Consume, возвращающий только факт траты.
func (g *GraceState) TryConsume(today shared.Date, now time.Time) bool {
	return g.Consume(today, now) == nil
}

// Reset снимает флаг. Возвращает true, если состояние изменилось.
// LastGraceDate сохраняется как история.
func (g *GraceState) Reset(now time.Time) bool {
	if !g.UsedThisWeek {
		return false
	}
	g.UsedThisWeek = false
	g.UpdatedAt = now
	return true
}
