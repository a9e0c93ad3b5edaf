package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY SUMMARY QUERY
// Недельный отчёт: серии, очки, новые бейджи и выполненные микро-задачи.
// Используется задачей weekly_report.
// ══════════════════════════════════════════════════════════════════════════════

// WeeklySummaryDTO - недельная сводка пользователя.
type WeeklySummaryDTO struct {
	UserID    shared.UserID `json:"user_id"`
	WeekStart shared.Date   `json:"week_start"`

	Attendance  streak.TrackState `json:"attendance"`
	Task        streak.TrackState `json:"task"`
	TotalPoints int               `json:"total_points"`

	// BadgesThisWeek - бейджи, полученные с начала недели.
	BadgesThisWeek []streak.Badge `json:"badges_this_week"`

	// MicroTasksCompleted - выполнено микро-задач за неделю.
	MicroTasksCompleted int `json:"micro_tasks_completed"`

	GraceUsed bool `json:"grace_used"`
}

// IsEmpty - за неделю ничего не произошло и серий нет.
func (s WeeklySummaryDTO) IsEmpty() bool {
	return s.Attendance.Current == 0 && s.Task.Current == 0 &&
		len(s.BadgesThisWeek) == 0 && s.MicroTasksCompleted == 0
}

// WeeklySummaryHandler строит недельную сводку. Только чтение: журнал
// не создаётся.
type WeeklySummaryHandler struct {
	store    streak.Store
	clock    timeutil.Clock
	location *time.Location
}

// NewWeeklySummaryHandler создаёт обработчик.
func NewWeeklySummaryHandler(store streak.Store, clock timeutil.Clock, loc *time.Location) *WeeklySummaryHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklySummaryHandler{store: store, clock: clock, location: loc}
}

// Handle возвращает сводку за неделю, содержащую текущий момент.
func (h *WeeklySummaryHandler) Handle(ctx context.Context, userID shared.UserID) (*WeeklySummaryDTO, error) {
	ledger, err := h.store.Ledgers().Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("weekly_summary: %w", err)
	}

	now := h.clock.Now()
	weekStart := timeutil.StartOfWeek(now, h.location)

	dto := &WeeklySummaryDTO{
		UserID:         userID,
		WeekStart:      shared.DateOf(weekStart, h.location),
		Attendance:     ledger.Attendance,
		Task:           ledger.Task,
		TotalPoints:    ledger.TotalPoints,
		BadgesThisWeek: []streak.Badge{},
	}
	for _, b := range ledger.Badges {
		if !b.EarnedAt.Before(weekStart) {
			dto.BadgesThisWeek = append(dto.BadgesThisWeek, b)
		}
	}

	tasks, err := h.store.MicroTasks().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("weekly_summary: %w", err)
	}
	for _, t := range tasks {
		if t.Completed && t.CompletedAt != nil && !t.CompletedAt.Before(weekStart) {
			dto.MicroTasksCompleted++
		}
	}

	g, err := h.store.Grace().Get(ctx, userID)
	switch {
	case err == nil:
		dto.GraceUsed = g.UsedThisWeek
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("weekly_summary: %w", err)
	}
	return dto, nil
}
