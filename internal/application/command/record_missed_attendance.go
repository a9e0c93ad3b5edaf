package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD MISSED ATTENDANCE COMMAND
// The attendance pipeline step: consult grace, then break or preserve the
// attendance streak, all in one unit of work.
// ══════════════════════════════════════════════════════════════════════════════

// RecordMissedAttendanceCommand reports a missed attendance day.
type RecordMissedAttendanceCommand struct {
	UserID shared.UserID

	// Day defaults to today.
	Day shared.Date
}

// RecordMissedAttendanceResult describes the effect of the missed day.
type RecordMissedAttendanceResult struct {
	Ledger *streak.Ledger

	// Duplicate means the day was already accounted for; grace was not touched.
	Duplicate bool

	GraceConsumed bool
	Outcome       streak.Outcome
}

// RecordMissedAttendanceHandler handles the RecordMissedAttendanceCommand.
type RecordMissedAttendanceHandler struct {
	deps Deps
}

// NewRecordMissedAttendanceHandler creates a new RecordMissedAttendanceHandler.
func NewRecordMissedAttendanceHandler(deps Deps) *RecordMissedAttendanceHandler {
	return &RecordMissedAttendanceHandler{deps: deps.withDefaults()}
}

// Handle executes the command.
//
// A day that is not strictly after the attendance track's lastUpdated is a
// duplicate: neither grace nor the streak is touched. This keys grace
// consumption by (user, day).
func (h *RecordMissedAttendanceHandler) Handle(ctx context.Context, cmd RecordMissedAttendanceCommand) (*RecordMissedAttendanceResult, error) {
	if err := cmd.UserID.Validate(); err != nil {
		return nil, fmt.Errorf("record_missed_attendance: validation failed: %w", err)
	}
	if cmd.Day.IsZero() {
		cmd.Day = h.deps.Today()
	}

	var result RecordMissedAttendanceResult
	err := h.deps.execute(ctx, "record_missed_attendance", cmd.UserID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		now := h.deps.Clock.Now()
		ledger, _, err := EnsureLedger(ctx, repos, cmd.UserID, now)
		if err != nil {
			return nil, err
		}
		result.Ledger = ledger
		if !cmd.Day.After(ledger.Attendance.LastUpdated) {
			result.Duplicate = true
			return nil, nil
		}

		g, err := EnsureGrace(ctx, repos, cmd.UserID, now)
		if err != nil {
			return nil, err
		}

		var events []shared.Event
		if g.TryConsume(cmd.Day, now) {
			result.GraceConsumed = true
			if err := repos.Grace().Save(ctx, g); err != nil {
				return nil, err
			}
			events = append(events, shared.NewGraceConsumedEvent(cmd.UserID.String(), cmd.Day, now))
		}

		out, err := ledger.UpdateStreak(streak.UpdateInput{
			Track:         streak.TrackAttendance,
			OccurredOn:    cmd.Day,
			Success:       false,
			GraceConsumed: result.GraceConsumed,
		}, h.deps.Policy, now)
		if err != nil {
			return nil, err
		}
		result.Outcome = out
		if err := repos.Ledgers().Save(ctx, ledger); err != nil {
			return nil, err
		}
		return append(events, out.Events(ledger, now)...), nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_missed_attendance: %w", err)
	}

	h.deps.Logger.Info("missed attendance recorded",
		logger.UserID(cmd.UserID.String()),
		logger.String("day", cmd.Day.String()),
		logger.Bool("duplicate", result.Duplicate),
		logger.Bool("grace_consumed", result.GraceConsumed),
	)
	return &result, nil
}
