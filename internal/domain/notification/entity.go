// Package notification содержит модель уведомлений, которые получают
// студенты: напоминания о пропущенных занятиях, новые микро-задачи,
// бейджи, восстановление серии и недельные отчёты.
//
// Доставка - внешняя зависимость. Пакет определяет только модель,
// интерфейс Notifier и политику (тихие часы, дневной лимит).
package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Type - тип уведомления.
type Type string

const (
	// TypeMissedClass - занятие пропущено, выдана микро-задача.
	TypeMissedClass Type = "missed_class"

	// TypeStreakBroken - серия прервана.
	TypeStreakBroken Type = "streak_broken"

	// TypeStreakRestored - серия восстановлена.
	TypeStreakRestored Type = "streak_restored"

	// TypeBadgeEarned - получен бейдж.
	TypeBadgeEarned Type = "badge_earned"

	// TypeGraceUsed - использован недельный пропуск.
	TypeGraceUsed Type = "grace_used"

	// TypeWeeklyReport - недельный отчёт.
	TypeWeeklyReport Type = "weekly_report"
)

// IsValid проверяет тип.
func (t Type) IsValid() bool {
	switch t {
	case TypeMissedClass, TypeStreakBroken, TypeStreakRestored, TypeBadgeEarned, TypeGraceUsed, TypeWeeklyReport:
		return true
	}
	return false
}

// DefaultPriority возвращает приоритет по умолчанию для данного типа.
func (t Type) DefaultPriority() Priority {
	switch t {
	case TypeStreakRestored, TypeBadgeEarned:
		return PriorityHigh
	case TypeWeeklyReport:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Priority определяет приоритет уведомления.
type Priority int

const (
	// PriorityLow - можно отложить.
	PriorityLow Priority = 1

	// PriorityNormal - обычный приоритет.
	PriorityNormal Priority = 2

	// PriorityHigh - важное уведомление.
	PriorityHigh Priority = 3
)

// String возвращает строковое представление.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification - одно уведомление пользователю.
type Notification struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	UserID    shared.UserID     `json:"user_id"`
	Priority  Priority          `json:"priority"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewNotificationParams - параметры создания уведомления.
type NewNotificationParams struct {
	ID       string
	Type     Type
	UserID   shared.UserID
	Title    string
	Message  string
	Metadata map[string]string
	Now      time.Time
}

// Ошибки валидации.
var (
	ErrInvalidType  = shared.NewDomainError("notification", "New", shared.ErrInvalidInput, "unknown notification type")
	ErrEmptyMessage = shared.NewDomainError("notification", "New", shared.ErrEmptyValue, "message is required")
)

// NewNotification создаёт уведомление.
func NewNotification(p NewNotificationParams) (*Notification, error) {
	if !p.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if err := p.UserID.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, ErrEmptyMessage
	}
	return &Notification{
		ID:        p.ID,
		Type:      p.Type,
		UserID:    p.UserID,
		Priority:  p.Type.DefaultPriority(),
		Title:     p.Title,
		Message:   p.Message,
		Metadata:  p.Metadata,
		CreatedAt: p.Now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// Notifier доставляет уведомления. Реализации выполняют сетевой ввод-вывод
// и не должны вызываться под блокировкой пользовательских данных.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NotifierFunc адаптирует функцию к Notifier.
type NotifierFunc func(ctx context.Context, n *Notification) error

// Notify реализует Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// IsSuppressed - уведомление отброшено политикой, а не ошибкой доставки.
func IsSuppressed(err error) bool {
	return errors.Is(err, shared.ErrNotificationSuppressed)
}
