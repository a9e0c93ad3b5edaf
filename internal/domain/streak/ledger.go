package streak

import (
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy - числовые правила начисления очков и восстановления.
type Policy struct {
	// AttendancePoints - очки за день посещения.
	AttendancePoints int

	// TaskPoints - очки за день выполнения задач.
	TaskPoints int

	// RestoreBonus - бонус за восстановление серии.
	RestoreBonus int

	// RestoreWindow - окно, в котором выполненные микро-задачи засчитываются.
	RestoreWindow time.Duration

	// RestoreThreshold - сколько задач нужно для восстановления.
	RestoreThreshold int
}

// DefaultPolicy возвращает стандартные правила.
func DefaultPolicy() Policy {
	return Policy{
		AttendancePoints: 10,
		TaskPoints:       5,
		RestoreBonus:     25,
		RestoreWindow:    48 * time.Hour,
		RestoreThreshold: 2,
	}
}

// PointsFor возвращает очки за успешный день на треке.
func (p Policy) PointsFor(t Track) int {
	if t == TrackAttendance {
		return p.AttendancePoints
	}
	return p.TaskPoints
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger - журнал серий пользователя. Один на пользователя, создаётся
// при первом обращении и не удаляется.
type Ledger struct {
	UserID     shared.UserID `json:"user_id"`
	Attendance TrackState    `json:"attendance"`
	Task       TrackState    `json:"task"`

	// TotalPoints не убывает.
	TotalPoints int `json:"total_points"`

	// Restorations - сколько раз серия была восстановлена микро-задачами.
	Restorations int `json:"restorations"`

	// Badges - только добавляются, без дубликатов по имени.
	Badges []Badge `json:"badges"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version увеличивается при каждом сохранении.
	Version int64 `json:"version"`
}

// NewLedger создаёт пустой журнал.
func NewLedger(userID shared.UserID, now time.Time) (*Ledger, error) {
	if err := userID.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		UserID:    userID,
		Badges:    []Badge{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TrackState возвращает указатель на состояние трека.
func (l *Ledger) TrackState(t Track) (*TrackState, error) {
	switch t {
	case TrackAttendance:
		return &l.Attendance, nil
	case TrackTask:
		return &l.Task, nil
	default:
		return nil, shared.ErrUnknownTrack
	}
}

// Clone возвращает глубокую копию журнала.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Badges = make([]Badge, len(l.Badges))
	copy(c.Badges, l.Badges)
	return &c
}

// UpdateInput - входные данные UpdateStreak.
type UpdateInput struct {
	Track         Track
	OccurredOn    shared.Date
	Success       bool
	GraceConsumed bool
}

// Validate проверяет входные данные.
func (in UpdateInput) Validate() error {
	if err := in.Track.Validate(); err != nil {
		return err
	}
	if in.OccurredOn.IsZero() {
		return shared.ErrInvalidDate
	}
	return nil
}

// Outcome описывает, что произошло с треком.
type Outcome struct {
	Track Track

	// Duplicate - день не новее lastUpdated, ничего не изменено.
	Duplicate bool

	Incremented    bool
	Broken         bool
	GracePreserved bool

	PreviousCurrent int
	PointsAwarded   int
	NewBadges       []Badge
}

// Changed возвращает true, если журнал изменился.
func (o Outcome) Changed() bool {
	return !o.Duplicate
}

// UpdateStreak применяет событие дня к треку.
//
// Очки начисляются только когда день продвинулся и событие успешное,
// то есть не более одного раза на (пользователь, трек, день).
func (l *Ledger) UpdateStreak(in UpdateInput, policy Policy, now time.Time) (Outcome, error) {
	if err := in.Validate(); err != nil {
		return Outcome{}, err
	}
	ts, err := l.TrackState(in.Track)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Track: in.Track, PreviousCurrent: ts.Current}
	if !in.OccurredOn.After(ts.LastUpdated) {
		out.Duplicate = true
		return out, nil
	}

	switch {
	case in.Success:
		ts.Current++
		if ts.Current > ts.Longest {
			ts.Longest = ts.Current
		}
		out.Incremented = true
		out.PointsAwarded = policy.PointsFor(in.Track)
		l.TotalPoints += out.PointsAwarded
	case in.GraceConsumed:
		out.GracePreserved = true
	default:
		out.Broken = ts.Current > 0
		ts.Current = 0
	}

	ts.LastUpdated = in.OccurredOn
	l.UpdatedAt = now
	out.NewBadges = EvaluateBadges(l, now)
	return out, nil
}

// Events возвращает доменные события для результата обновления.
func (o Outcome) Events(l *Ledger, now time.Time) []shared.Event {
	if o.Duplicate {
		return nil
	}
	ts, err := l.TrackState(o.Track)
	if err != nil {
		return nil
	}
	uid := l.UserID.String()

	var events []shared.Event
	switch {
	case o.Broken:
		events = append(events, shared.NewStreakBrokenEvent(uid, o.Track.String(), o.PreviousCurrent, ts.Longest, now))
	case o.Incremented, o.GracePreserved:
		events = append(events, shared.NewStreakUpdatedEvent(uid, o.Track.String(), ts.Current, ts.Longest, o.PointsAwarded, o.GracePreserved, now))
	}
	return append(events, BadgeEvents(l.UserID, o.NewBadges, now)...)
}
