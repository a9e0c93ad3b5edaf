// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEDGER QUERY
// Возвращает журнал серий пользователя. При первом обращении журнал
// создаётся, поэтому "не найден" здесь не возникает.
// ══════════════════════════════════════════════════════════════════════════════

// LedgerDTO - журнал серий вместе с состоянием недельного пропуска.
type LedgerDTO struct {
	*streak.Ledger

	// GraceUsedThisWeek - пропуск на этой неделе уже использован.
	GraceUsedThisWeek bool `json:"grace_used_this_week"`

	// LastGraceDate - день последнего использования пропуска.
	LastGraceDate shared.Date `json:"last_grace_date"`
}

// GetLedgerHandler обрабатывает запрос журнала.
type GetLedgerHandler struct {
	store  streak.Store
	cache  command.LedgerCache
	clock  timeutil.Clock
	logger *logger.Logger

	// group склеивает одновременные первые обращения одного пользователя.
	group singleflight.Group
}

// NewGetLedgerHandler создаёт обработчик. cache может быть nil.
func NewGetLedgerHandler(store streak.Store, cache command.LedgerCache, clock timeutil.Clock, log *logger.Logger) *GetLedgerHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetLedgerHandler{store: store, cache: cache, clock: clock, logger: log}
}

// Handle возвращает журнал, создавая его при первом обращении.
func (h *GetLedgerHandler) Handle(ctx context.Context, userID shared.UserID) (*streak.Ledger, error) {
	if err := userID.Validate(); err != nil {
		return nil, fmt.Errorf("get_ledger: validation failed: %w", err)
	}

	if h.cache != nil {
		if l, err := h.cache.Get(ctx, userID); err == nil {
			return l, nil
		}
	}

	v, err, _ := h.group.Do(userID.String(), func() (interface{}, error) {
		var ledger *streak.Ledger
		err := h.store.Atomic(ctx, userID, func(ctx context.Context, repos streak.Repositories) error {
			l, created, err := command.EnsureLedger(ctx, repos, userID, h.clock.Now())
			if err != nil {
				return err
			}
			ledger = l
			if created {
				h.logger.Info("ledger created", logger.UserID(userID.String()))
				return nil
			}
			// Filled inside the unit of work: a command on this user commits,
			// and then invalidates, strictly after this write.
			h.fillCache(ctx, l)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ledger, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_ledger: %w", err)
	}
	// Callers sharing a flight must not share a mutable ledger.
	return v.(*streak.Ledger).Clone(), nil
}

// cacheFillTimeout bounds the cache write made while the user is serialized.
const cacheFillTimeout = 250 * time.Millisecond

func (h *GetLedgerHandler) fillCache(ctx context.Context, l *streak.Ledger) {
	if h.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheFillTimeout)
	defer cancel()
	if err := h.cache.Set(ctx, l); err != nil {
		h.logger.Warn("ledger cache write failed", logger.UserID(l.UserID.String()), logger.Err(err))
	}
}

// HandleWithGrace возвращает журнал вместе с состоянием пропуска.
func (h *GetLedgerHandler) HandleWithGrace(ctx context.Context, userID shared.UserID) (*LedgerDTO, error) {
	l, err := h.Handle(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := &LedgerDTO{Ledger: l}
	g, err := h.store.Grace().Get(ctx, userID)
	switch {
	case err == nil:
		dto.GraceUsedThisWeek = g.UsedThisWeek
		dto.LastGraceDate = g.LastGraceDate
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("get_ledger: %w", err)
	}
	return dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST MICRO-TASKS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListMicroTasksQuery - параметры списка задач.
type ListMicroTasksQuery struct {
	UserID shared.UserID

	// PendingOnly - только невыполненные и неистёкшие.
	PendingOnly bool
}

// MicroTaskDTO - задача с производным состоянием.
type MicroTaskDTO struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	RelatedClassID   string     `json:"related_class_id,omitempty"`
	State            string     `json:"state"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RestoreEligible  bool       `json:"streak_restore_eligible"`
}

// ListMicroTasksHandler обрабатывает запрос списка задач.
type ListMicroTasksHandler struct {
	store streak.Store
	clock timeutil.Clock
}

// NewListMicroTasksHandler создаёт обработчик.
func NewListMicroTasksHandler(store streak.Store, clock timeutil.Clock) *ListMicroTasksHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ListMicroTasksHandler{store: store, clock: clock}
}

// Handle возвращает задачи пользователя, новые первыми.
// Истёкшие задачи никогда не попадают в список ожидающих.
func (h *ListMicroTasksHandler) Handle(ctx context.Context, q ListMicroTasksQuery) ([]MicroTaskDTO, error) {
	if err := q.UserID.Validate(); err != nil {
		return nil, fmt.Errorf("list_micro_tasks: validation failed: %w", err)
	}
	tasks, err := h.store.MicroTasks().ListByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("list_micro_tasks: %w", err)
	}

	now := h.clock.Now()
	out := make([]MicroTaskDTO, 0, len(tasks))
	for _, t := range tasks {
		if q.PendingOnly && !t.IsPending(now) {
			continue
		}
		out = append(out, MicroTaskDTO{
			ID:               t.ID,
			Type:             t.Type.String(),
			Title:            t.Title,
			Description:      t.Description,
			EstimatedMinutes: t.EstimatedMinutes,
			RelatedClassID:   t.RelatedClassID,
			State:            string(t.State(now)),
			Completed:        t.Completed,
			CompletedAt:      t.CompletedAt,
			CreatedAt:        t.CreatedAt,
			ExpiresAt:        t.ExpiresAt,
			RestoreEligible:  t.StreakRestoreEligible,
		})
	}
	return out, nil
}
