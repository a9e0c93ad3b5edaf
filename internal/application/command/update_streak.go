package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE STREAK COMMAND
// Applies one day's success or failure to a streak track.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreakCommand contains the data for one track update.
type UpdateStreakCommand struct {
	UserID shared.UserID

	// Track is attendance or task.
	Track streak.Track

	// OccurredOn is the calendar day of the event. Defaults to today.
	OccurredOn shared.Date

	// Success reports whether the tracked behaviour happened.
	Success bool

	// GraceConsumed marks a failure that was forgiven by the weekly grace.
	GraceConsumed bool
}

// Validate validates the command.
func (c UpdateStreakCommand) Validate() error {
	if err := c.UserID.Validate(); err != nil {
		return err
	}
	return c.Track.Validate()
}

// UpdateStreakResult contains the updated ledger and what changed.
type UpdateStreakResult struct {
	Ledger  *streak.Ledger
	Outcome streak.Outcome
}

// UpdateStreakHandler handles the UpdateStreakCommand.
type UpdateStreakHandler struct {
	deps Deps
}

// NewUpdateStreakHandler creates a new UpdateStreakHandler.
func NewUpdateStreakHandler(deps Deps) *UpdateStreakHandler {
	return &UpdateStreakHandler{deps: deps.withDefaults()}
}

// Handle executes the update streak command.
func (h *UpdateStreakHandler) Handle(ctx context.Context, cmd UpdateStreakCommand) (*UpdateStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_streak: validation failed: %w", err)
	}
	if cmd.OccurredOn.IsZero() {
		cmd.OccurredOn = h.deps.Today()
	}

	var result UpdateStreakResult
	err := h.deps.execute(ctx, "update_streak", cmd.UserID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		now := h.deps.Clock.Now()
		ledger, _, err := EnsureLedger(ctx, repos, cmd.UserID, now)
		if err != nil {
			return nil, err
		}

		out, err := ledger.UpdateStreak(streak.UpdateInput{
			Track:         cmd.Track,
			OccurredOn:    cmd.OccurredOn,
			Success:       cmd.Success,
			GraceConsumed: cmd.GraceConsumed,
		}, h.deps.Policy, now)
		if err != nil {
			return nil, err
		}

		result = UpdateStreakResult{Ledger: ledger, Outcome: out}
		if out.Duplicate {
			return nil, nil
		}
		if err := repos.Ledgers().Save(ctx, ledger); err != nil {
			return nil, err
		}
		return out.Events(ledger, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("update_streak: %w", err)
	}

	h.deps.Logger.Debug("streak updated",
		logger.UserID(cmd.UserID.String()),
		logger.Track(cmd.Track.String()),
		logger.String("day", cmd.OccurredOn.String()),
		logger.Bool("duplicate", result.Outcome.Duplicate),
	)
	return &result, nil
}
