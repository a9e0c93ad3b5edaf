// Package microtask содержит модель микро-задач - небольших заданий
// (5-30 минут), которые выдаются после пропущенного занятия.
//
// Жизненный цикл: created -> completed -> consumed, либо created -> expired.
// Истечение не хранится, а проверяется при чтении по ExpiresAt.
package microtask

import (
	"strings"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Type - вид микро-задачи.
type Type string

const (
	TypeReadSlides Type = "read_slides"
	TypeWatchClip  Type = "watch_clip"
	TypeDoMCQs     Type = "do_mcqs"
	TypeSummarize  Type = "summarize"
	TypeVoiceNote  Type = "voice_note"
)

// AllTypes возвращает все виды задач.
func AllTypes() []Type {
	return []Type{TypeReadSlides, TypeWatchClip, TypeDoMCQs, TypeSummarize, TypeVoiceNote}
}

// IsValid проверяет, что вид задачи известен.
func (t Type) IsValid() bool {
	switch t {
	case TypeReadSlides, TypeWatchClip, TypeDoMCQs, TypeSummarize, TypeVoiceNote:
		return true
	}
	return false
}

// ParseType разбирает строку.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrUnknownTaskType
	}
	return t, nil
}

func (t Type) String() string {
	return string(t)
}

// Persona - заявленный стиль мотивации пользователя.
type Persona string

const (
	PersonaHustler Persona = "hustler"
	PersonaAnxious Persona = "anxious"
	PersonaBusy    Persona = "busy"
	PersonaSkeptic Persona = "skeptic"
)

// NormalizePersona приводит строку к каноническому виду.
func NormalizePersona(s string) Persona {
	return Persona(strings.ToLower(strings.TrimSpace(s)))
}

// State - производное состояние задачи на момент времени.
type State string

const (
	StateCreated   State = "created"
	StateCompleted State = "completed"
	StateConsumed  State = "consumed"
	StateExpired   State = "expired"
)

// Ограничения.
const (
	MinEstimatedMinutes = 5
	MaxEstimatedMinutes = 30

	// DefaultTTL - срок жизни задачи с момента создания.
	DefaultTTL = 48 * time.Hour
)

// ══════════════════════════════════════════════════════════════════════════════
// MICRO TASK
// ══════════════════════════════════════════════════════════════════════════════

// MicroTask - задача для восстановления после пропуска.
type MicroTask struct {
	ID     string        `json:"id"`
	UserID shared.UserID `json:"user_id"`

	// RelatedClassID - слабая ссылка на пропущенное занятие.
	RelatedClassID string `json:"related_class_id,omitempty"`

	Type             Type   `json:"type"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes"`

	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// StreakRestoreEligible становится false, когда задача потрачена на восстановление.
	StreakRestoreEligible bool `json:"streak_restore_eligible"`
}

// NewParams - параметры создания задачи.
type NewParams struct {
	ID               string
	UserID           shared.UserID
	RelatedClassID   string
	Type             Type
	Title            string
	Description      string
	EstimatedMinutes int
	CreatedAt        time.Time

	// TTL по умолчанию DefaultTTL.
	TTL time.Duration
}

// New создаёт задачу с проверкой инвариантов.
func New(p NewParams) (*MicroTask, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, shared.ErrInvalidTaskID
	}
	if err := p.UserID.Validate(); err != nil {
		return nil, err
	}
	if !p.Type.IsValid() {
		return nil, shared.ErrUnknownTaskType
	}
	if err := ValidateEstimate(p.EstimatedMinutes); err != nil {
		return nil, err
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MicroTask{
		ID:                    p.ID,
		UserID:                p.UserID,
		RelatedClassID:        p.RelatedClassID,
		Type:                  p.Type,
		Title:                 p.Title,
		Description:           p.Description,
		EstimatedMinutes:      p.EstimatedMinutes,
		CreatedAt:             p.CreatedAt,
		ExpiresAt:             p.CreatedAt.Add(ttl),
		StreakRestoreEligible: true,
	}, nil
}

// ValidateEstimate проверяет оценку времени.
func ValidateEstimate(minutes int) error {
	if minutes < MinEstimatedMinutes || minutes > MaxEstimatedMinutes {
		return shared.ErrInvalidEstimate
	}
	return nil
}

// IsExpired - задача истекла к моменту now.
func (t *MicroTask) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// IsPending - задача ещё ждёт выполнения.
func (t *MicroTask) IsPending(now time.Time) bool {
	return !t.Completed && !t.IsExpired(now)
}

// Complete отмечает задачу выполненной. Повторное выполнение и выполнение
// истёкшей задачи - конфликты.
func (t *MicroTask) Complete(now time.Time) error {
	if t.Completed {
		return shared.ErrMicroTaskAlreadyCompleted
	}
	if t.IsExpired(now) {
		return shared.ErrMicroTaskExpired
	}
	at := now
	t.Completed = true
	t.CompletedAt = &at
	return nil
}

// QualifiesForRestore - задача засчитывается в восстановление серии:
// выполнена, ещё не потрачена, выполнена до истечения и внутри окна,
// и сама задача ещё не истекла.
func (t *MicroTask) QualifiesForRestore(now time.Time, window time.Duration) bool {
	if !t.Completed || !t.StreakRestoreEligible || t.CompletedAt == nil {
		return false
	}
	if t.IsExpired(now) || t.CompletedAt.After(t.ExpiresAt) {
		return false
	}
	return !t.CompletedAt.Before(now.Add(-window))
}

// ConsumeForRestore помечает задачу потраченной.
func (t *MicroTask) ConsumeForRestore() {
	t.StreakRestoreEligible = false
}

// State возвращает производное состояние на момент now.
func (t *MicroTask) State(now time.Time) State {
	switch {
	case t.Completed && !t.StreakRestoreEligible:
		return StateConsumed
	case t.Completed:
		return StateCompleted
	case t.IsExpired(now):
		return StateExpired
	default:
		return StateCreated
	}
}

// Clone возвращает копию задачи.
func (t *MicroTask) Clone() *MicroTask {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// CreatedEvent строит событие microtask.created.
func (t *MicroTask) CreatedEvent() shared.Event {
	return shared.NewMicroTaskCreatedEvent(t.UserID.String(), t.ID, t.Type.String(), t.Title, t.RelatedClassID, t.EstimatedMinutes, t.ExpiresAt, t.CreatedAt)
}

// CompletedEvent строит событие microtask.completed.
func (t *MicroTask) CompletedEvent(now time.Time) shared.Event {
	return shared.NewMicroTaskCompletedEvent(t.UserID.String(), t.ID, t.Type.String(), now)
}
