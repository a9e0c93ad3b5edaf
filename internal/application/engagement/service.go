// Package engagement exposes the streak engine as one service object.
// It composes the command and query handlers and is what the HTTP layer
// and the scheduled jobs talk to.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/application/query"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// Feature flag names consulted by the service.
const (
	FlagMicroTasks  = "engine.micro_tasks"
	FlagRestoration = "engine.restoration"
)

// Flags reports whether a feature is enabled.
type Flags interface {
	IsEnabled(name string) bool
}

type allEnabled struct{}

func (allEnabled) IsEnabled(string) bool { return true }

// Config wires the service.
type Config struct {
	Deps command.Deps

	// Catalog defaults to the embedded micro-task catalog.
	Catalog *microtask.Catalog

	// TaskTTL defaults to 48h.
	TaskTTL time.Duration

	// Directory resolves personas when callers do not pass one. Optional.
	Directory attendance.Directory

	// Flags defaults to everything enabled.
	Flags Flags
}

// Service is the engagement engine facade.
type Service struct {
	deps      command.Deps
	directory attendance.Directory
	flags     Flags
	logger    *logger.Logger

	updateStreak *command.UpdateStreakHandler
	consumeGrace *command.ConsumeGraceHandler
	resetGrace   *command.ResetWeeklyGraceHandler
	missed       *command.RecordMissedAttendanceHandler
	createTask   *command.CreateMicroTaskHandler
	completeTask *command.CompleteMicroTaskHandler
	restore      *command.RestoreStreakHandler
	badges       *command.EvaluateBadgesHandler

	getLedger *query.GetLedgerHandler
	listTasks *query.ListMicroTasksHandler
	summary   *query.WeeklySummaryHandler
}

// NewService creates the service.
func NewService(cfg Config) *Service {
	deps := cfg.Deps
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	flags := cfg.Flags
	if flags == nil {
		flags = allEnabled{}
	}

	return &Service{
		deps:      deps,
		directory: cfg.Directory,
		flags:     flags,
		logger:    deps.Logger.With(logger.Component("engagement")),

		updateStreak: command.NewUpdateStreakHandler(deps),
		consumeGrace: command.NewConsumeGraceHandler(deps),
		resetGrace:   command.NewResetWeeklyGraceHandler(deps),
		missed:       command.NewRecordMissedAttendanceHandler(deps),
		createTask:   command.NewCreateMicroTaskHandler(deps, cfg.Catalog, cfg.TaskTTL),
		completeTask: command.NewCompleteMicroTaskHandler(deps),
		restore:      command.NewRestoreStreakHandler(deps),
		badges:       command.NewEvaluateBadgesHandler(deps),

		getLedger: query.NewGetLedgerHandler(deps.Store, deps.Cache, deps.Clock, deps.Logger),
		listTasks: query.NewListMicroTasksHandler(deps.Store, deps.Clock),
		summary:   query.NewWeeklySummaryHandler(deps.Store, deps.Clock, deps.Location),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// GetLedger returns the user's ledger, creating it on first access.
func (s *Service) GetLedger(ctx context.Context, userID shared.UserID) (*query.LedgerDTO, error) {
	return s.getLedger.HandleWithGrace(ctx, userID)
}

// UpdateStreak applies one day's outcome to a track.
func (s *Service) UpdateStreak(ctx context.Context, cmd command.UpdateStreakCommand) (*command.UpdateStreakResult, error) {
	return s.updateStreak.Handle(ctx, cmd)
}

// RecordTaskCompletion marks the task track successful for day.
func (s *Service) RecordTaskCompletion(ctx context.Context, userID shared.UserID, day shared.Date) (*command.UpdateStreakResult, error) {
	return s.updateStreak.Handle(ctx, command.UpdateStreakCommand{
		UserID:     userID,
		Track:      streak.TrackTask,
		OccurredOn: day,
		Success:    true,
	})
}

// EvaluateBadges re-runs the badge rules for userID.
func (s *Service) EvaluateBadges(ctx context.Context, userID shared.UserID) ([]streak.Badge, error) {
	return s.badges.Handle(ctx, userID)
}

// WeeklySummary returns the current week's summary for userID.
func (s *Service) WeeklySummary(ctx context.Context, userID shared.UserID) (*query.WeeklySummaryDTO, error) {
	return s.summary.Handle(ctx, userID)
}

// UserIDs lists every user with a ledger.
func (s *Service) UserIDs(ctx context.Context) ([]shared.UserID, error) {
	return s.deps.Store.Ledgers().ListUserIDs(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// GRACE
// ══════════════════════════════════════════════════════════════════════════════

// TryConsumeGrace spends the weekly grace if still available.
func (s *Service) TryConsumeGrace(ctx context.Context, userID shared.UserID, today shared.Date) (bool, error) {
	res, err := s.consumeGrace.Handle(ctx, command.ConsumeGraceCommand{UserID: userID, Today: today})
	if err != nil {
		return false, err
	}
	return res.Consumed, nil
}

// ResetWeeklyGrace clears the grace flag for every user.
func (s *Service) ResetWeeklyGrace(ctx context.Context) (int64, error) {
	res, err := s.resetGrace.Handle(ctx)
	if err != nil {
		return 0, err
	}
	return res.UsersReset, nil
}

// RecordMissedAttendance consults grace and breaks or preserves the attendance streak.
func (s *Service) RecordMissedAttendance(ctx context.Context, userID shared.UserID, day shared.Date) (*command.RecordMissedAttendanceResult, error) {
	return s.missed.Handle(ctx, command.RecordMissedAttendanceCommand{UserID: userID, Day: day})
}

// ══════════════════════════════════════════════════════════════════════════════
// MICRO-TASKS
// ══════════════════════════════════════════════════════════════════════════════

// CreateMicroTaskInput describes the missed class a task is created for.
type CreateMicroTaskInput struct {
	UserID     shared.UserID
	Persona    string
	ClassRef   string
	ClassTitle string
}

// ErrFeatureDisabled is returned when a flag turns an operation off.
var ErrFeatureDisabled = shared.NewDomainError("engagement", "Flag", shared.ErrServiceUnavailable, "feature disabled")

// CreateMicroTaskForMissedClass issues (or returns the existing) micro-task
// for a missed class. An empty persona is looked up in the directory.
func (s *Service) CreateMicroTaskForMissedClass(ctx context.Context, in CreateMicroTaskInput) (*command.CreateMicroTaskResult, error) {
	if !s.flags.IsEnabled(FlagMicroTasks) {
		return nil, ErrFeatureDisabled
	}
	persona := in.Persona
	if persona == "" && s.directory != nil {
		p, err := s.directory.Profile(ctx, in.UserID)
		if err != nil {
			s.logger.Warn("profile lookup failed, using default persona",
				logger.UserID(in.UserID.String()), logger.Err(err))
		} else {
			persona = p.Persona
		}
	}
	return s.createTask.Handle(ctx, command.CreateMicroTaskCommand{
		UserID:     in.UserID,
		Persona:    persona,
		ClassRef:   in.ClassRef,
		ClassTitle: in.ClassTitle,
	})
}

// MissedClassResult combines the streak effect and the issued task.
type MissedClassResult struct {
	Attendance *command.RecordMissedAttendanceResult
	Task       *command.CreateMicroTaskResult
}

// HandleMissedClass runs the full missed-class pipeline: record the missed
// day, then issue the remediation task.
func (s *Service) HandleMissedClass(ctx context.Context, m attendance.MissedClass) (*MissedClassResult, error) {
	day := shared.DateOf(m.ScheduledAt, s.deps.Location)
	att, err := s.RecordMissedAttendance(ctx, m.UserID, day)
	if err != nil {
		return nil, err
	}
	res := &MissedClassResult{Attendance: att}
	if !s.flags.IsEnabled(FlagMicroTasks) {
		return res, nil
	}
	task, err := s.CreateMicroTaskForMissedClass(ctx, CreateMicroTaskInput{
		UserID:     m.UserID,
		ClassRef:   m.ClassRef,
		ClassTitle: m.ClassTitle,
	})
	if err != nil {
		return res, fmt.Errorf("missed class %s: %w", m.ClassRef, err)
	}
	res.Task = task
	return res, nil
}

// ListMicroTasks lists the user's tasks.
func (s *Service) ListMicroTasks(ctx context.Context, userID shared.UserID, pendingOnly bool) ([]query.MicroTaskDTO, error) {
	return s.listTasks.Handle(ctx, query.ListMicroTasksQuery{UserID: userID, PendingOnly: pendingOnly})
}

// CompleteResult is the outcome of completing a task.
type CompleteResult struct {
	Task        *microtask.MicroTask
	Restoration *command.RestoreStreakResult
}

// CompleteMicroTask completes a task and then attempts restoration.
// The restoration attempt runs in its own unit of work; its failure is
// logged and does not undo the completion.
func (s *Service) CompleteMicroTask(ctx context.Context, taskID string, owner shared.UserID) (*CompleteResult, error) {
	task, err := s.completeTask.Handle(ctx, command.CompleteMicroTaskCommand{TaskID: taskID, UserID: owner})
	if err != nil {
		return nil, err
	}
	res := &CompleteResult{Task: task}
	if !s.flags.IsEnabled(FlagRestoration) {
		return res, nil
	}
	restored, err := s.restore.Handle(ctx, task.UserID)
	if err != nil {
		s.logger.Error("restore after completion failed",
			logger.UserID(task.UserID.String()), logger.TaskID(task.ID), logger.Err(err))
		return res, nil
	}
	res.Restoration = restored
	return res, nil
}

// RestoreStreakWithMicroTasks applies the restoration rule for userID.
func (s *Service) RestoreStreakWithMicroTasks(ctx context.Context, userID shared.UserID) (*command.RestoreStreakResult, error) {
	if !s.flags.IsEnabled(FlagRestoration) {
		return nil, ErrFeatureDisabled
	}
	return s.restore.Handle(ctx, userID)
}
