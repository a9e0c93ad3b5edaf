package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSUME GRACE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ConsumeGraceCommand asks to spend the user's weekly grace on a day.
type ConsumeGraceCommand struct {
	UserID shared.UserID

	// Today defaults to the current day.
	Today shared.Date
}

// ConsumeGraceResult reports whether grace was spent.
type ConsumeGraceResult struct {
	Consumed bool
	State    *streak.GraceState
}

// ConsumeGraceHandler handles the ConsumeGraceCommand.
//
// Consumption is not idempotent by itself: callers key attempts by
// (user, day). RecordMissedAttendanceHandler does that through the ledger.
type ConsumeGraceHandler struct {
	deps Deps
}

// NewConsumeGraceHandler creates a new ConsumeGraceHandler.
func NewConsumeGraceHandler(deps Deps) *ConsumeGraceHandler {
	return &ConsumeGraceHandler{deps: deps.withDefaults()}
}

// Handle executes the consume grace command.
func (h *ConsumeGraceHandler) Handle(ctx context.Context, cmd ConsumeGraceCommand) (*ConsumeGraceResult, error) {
	if err := cmd.UserID.Validate(); err != nil {
		return nil, fmt.Errorf("consume_grace: validation failed: %w", err)
	}
	if cmd.Today.IsZero() {
		cmd.Today = h.deps.Today()
	}

	var result ConsumeGraceResult
	err := h.deps.execute(ctx, "consume_grace", cmd.UserID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		now := h.deps.Clock.Now()
		g, err := EnsureGrace(ctx, repos, cmd.UserID, now)
		if err != nil {
			return nil, err
		}
		result.State = g
		if !g.TryConsume(cmd.Today, now) {
			return nil, nil
		}
		result.Consumed = true
		if err := repos.Grace().Save(ctx, g); err != nil {
			return nil, err
		}
		return []shared.Event{shared.NewGraceConsumedEvent(cmd.UserID.String(), cmd.Today, now)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("consume_grace: %w", err)
	}
	return &result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESET WEEKLY GRACE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ResetWeeklyGraceResult reports how many users had their grace restored.
type ResetWeeklyGraceResult struct {
	UsersReset int64
}

// ResetWeeklyGraceHandler clears the weekly grace flag for every user.
// Running it twice in one cycle changes nothing the second time.
type ResetWeeklyGraceHandler struct {
	deps Deps
}

// NewResetWeeklyGraceHandler creates a new ResetWeeklyGraceHandler.
func NewResetWeeklyGraceHandler(deps Deps) *ResetWeeklyGraceHandler {
	return &ResetWeeklyGraceHandler{deps: deps.withDefaults()}
}

// Handle executes the reset.
func (h *ResetWeeklyGraceHandler) Handle(ctx context.Context) (*ResetWeeklyGraceResult, error) {
	var result ResetWeeklyGraceResult
	err := h.deps.execute(ctx, "reset_weekly_grace", "", func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		now := h.deps.Clock.Now()
		n, err := repos.Grace().ResetAll(ctx, now)
		if err != nil {
			return nil, err
		}
		result.UsersReset = n
		return []shared.Event{shared.NewGraceResetEvent(n, now)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset_weekly_grace: %w", err)
	}

	h.deps.Logger.Info("weekly grace reset", logger.Int64("users_reset", result.UsersReset))
	return &result, nil
}
