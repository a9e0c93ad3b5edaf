package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/streak-engine/internal/domain/microtask"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE MICRO-TASK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CreateMicroTaskCommand issues a remediation task for a missed class.
type CreateMicroTaskCommand struct {
	UserID shared.UserID

	// Persona selects the task type. Unknown personas get the default type.
	Persona string

	// ClassRef identifies the missed class. At most one task exists per
	// (user, ClassRef); an empty ClassRef always creates a new task.
	ClassRef string

	ClassTitle string
}

// CreateMicroTaskResult returns the task and whether it is new.
type CreateMicroTaskResult struct {
	Task    *microtask.MicroTask
	Created bool
}

// CreateMicroTaskHandler handles the CreateMicroTaskCommand.
type CreateMicroTaskHandler struct {
	deps    Deps
	catalog *microtask.Catalog
	ttl     time.Duration
	newID   func() string
}

// NewCreateMicroTaskHandler creates a new CreateMicroTaskHandler.
// A nil catalog uses the embedded default; a zero ttl uses 48h.
func NewCreateMicroTaskHandler(deps Deps, catalog *microtask.Catalog, ttl time.Duration) *CreateMicroTaskHandler {
	if catalog == nil {
		catalog = microtask.DefaultCatalog()
	}
	if ttl <= 0 {
		ttl = microtask.DefaultTTL
	}
	return &CreateMicroTaskHandler{
		deps:    deps.withDefaults(),
		catalog: catalog,
		ttl:     ttl,
		newID:   func() string { return uuid.NewString() },
	}
}

// Handle executes the command.
func (h *CreateMicroTaskHandler) Handle(ctx context.Context, cmd CreateMicroTaskCommand) (*CreateMicroTaskResult, error) {
	if err := cmd.UserID.Validate(); err != nil {
		return nil, fmt.Errorf("create_micro_task: validation failed: %w", err)
	}

	var result CreateMicroTaskResult
	err := h.deps.execute(ctx, "create_micro_task", cmd.UserID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		if cmd.ClassRef != "" {
			existing, err := repos.MicroTasks().FindByClass(ctx, cmd.UserID, cmd.ClassRef)
			if err == nil {
				result.Task = existing
				return nil, nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return nil, err
			}
		}

		task, err := h.catalog.Build(microtask.BuildParams{
			ID:         h.newID(),
			UserID:     cmd.UserID,
			Persona:    cmd.Persona,
			ClassRef:   cmd.ClassRef,
			ClassTitle: cmd.ClassTitle,
			Now:        h.deps.Clock.Now(),
			TTL:        h.ttl,
		})
		if err != nil {
			return nil, err
		}
		if err := repos.MicroTasks().Save(ctx, task); err != nil {
			return nil, err
		}
		result = CreateMicroTaskResult{Task: task, Created: true}
		return []shared.Event{task.CreatedEvent()}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create_micro_task: %w", err)
	}

	if result.Created {
		h.deps.Logger.Info("micro-task created",
			logger.UserID(cmd.UserID.String()),
			logger.TaskID(result.Task.ID),
			logger.String("type", result.Task.Type.String()),
			logger.String("class_ref", cmd.ClassRef),
		)
	}
	return &result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE MICRO-TASK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CompleteMicroTaskCommand marks a task as done.
type CompleteMicroTaskCommand struct {
	TaskID string

	// UserID, when set, must own the task.
	UserID shared.UserID
}

// CompleteMicroTaskHandler handles the CompleteMicroTaskCommand.
type CompleteMicroTaskHandler struct {
	deps Deps
}

// NewCompleteMicroTaskHandler creates a new CompleteMicroTaskHandler.
func NewCompleteMicroTaskHandler(deps Deps) *CompleteMicroTaskHandler {
	return &CompleteMicroTaskHandler{deps: deps.withDefaults()}
}

// Handle executes the command. Completing an already completed task returns
// shared.ErrMicroTaskAlreadyCompleted; an expired task returns
// shared.ErrMicroTaskExpired.
func (h *CompleteMicroTaskHandler) Handle(ctx context.Context, cmd CompleteMicroTaskCommand) (*microtask.MicroTask, error) {
	if cmd.TaskID == "" {
		return nil, fmt.Errorf("complete_micro_task: validation failed: %w", shared.ErrInvalidTaskID)
	}

	// The owner is needed to pick the lock; the task is re-read under it.
	existing, err := h.deps.Store.MicroTasks().Get(ctx, cmd.TaskID)
	if err != nil {
		return nil, fmt.Errorf("complete_micro_task: %w", err)
	}
	if cmd.UserID != "" && existing.UserID != cmd.UserID {
		return nil, fmt.Errorf("complete_micro_task: %w", shared.ErrMicroTaskNotFound)
	}

	var task *microtask.MicroTask
	err = h.deps.execute(ctx, "complete_micro_task", existing.UserID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		t, err := repos.MicroTasks().Get(ctx, cmd.TaskID)
		if err != nil {
			return nil, err
		}
		now := h.deps.Clock.Now()
		if err := t.Complete(now); err != nil {
			return nil, err
		}
		if err := repos.MicroTasks().Save(ctx, t); err != nil {
			return nil, err
		}
		task = t
		return []shared.Event{t.CompletedEvent(now)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete_micro_task: %w", err)
	}
	return task, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESTORE STREAK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RestoreStreakResult describes the restoration attempt.
type RestoreStreakResult struct {
	Applied     bool
	Ledger      *streak.Ledger
	Restoration streak.RestorationResult
}

// RestoreStreakHandler applies the micro-task restoration rule.
// It is safe to call after every completed task; only the first call that
// finds enough qualifying tasks has an effect.
type RestoreStreakHandler struct {
	deps Deps
}

// NewRestoreStreakHandler creates a new RestoreStreakHandler.
func NewRestoreStreakHandler(deps Deps) *RestoreStreakHandler {
	return &RestoreStreakHandler{deps: deps.withDefaults()}
}

// Handle executes the restoration for userID.
func (h *RestoreStreakHandler) Handle(ctx context.Context, userID shared.UserID) (*RestoreStreakResult, error) {
	if err := userID.Validate(); err != nil {
		return nil, fmt.Errorf("restore_streak: validation failed: %w", err)
	}

	var result RestoreStreakResult
	err := h.deps.execute(ctx, "restore_streak", userID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		now := h.deps.Clock.Now()
		ledger, _, err := EnsureLedger(ctx, repos, userID, now)
		if err != nil {
			return nil, err
		}
		result.Ledger = ledger

		tasks, err := repos.MicroTasks().ListCompletedSince(ctx, userID, now.Add(-h.deps.Policy.RestoreWindow))
		if err != nil {
			return nil, err
		}
		res := ledger.Restore(tasks, h.deps.Policy, now)
		result.Restoration = res
		if !res.Applied {
			return nil, nil
		}
		result.Applied = true

		if err := repos.Ledgers().Save(ctx, ledger); err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if !t.StreakRestoreEligible {
				if err := repos.MicroTasks().Save(ctx, t); err != nil {
					return nil, err
				}
			}
		}
		return res.Events(userID, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore_streak: %w", err)
	}

	if result.Applied {
		h.deps.Logger.Info("streak restored",
			logger.UserID(userID.String()),
			logger.Int("restored_to", result.Restoration.RestoredTo),
			logger.Int("tasks_consumed", len(result.Restoration.Consumed)),
		)
	}
	return &result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE BADGES COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateBadgesHandler re-runs the badge rules on a stored ledger.
// Useful after a rule table change; a no-op on an unchanged ledger.
type EvaluateBadgesHandler struct {
	deps Deps
}

// NewEvaluateBadgesHandler creates a new EvaluateBadgesHandler.
func NewEvaluateBadgesHandler(deps Deps) *EvaluateBadgesHandler {
	return &EvaluateBadgesHandler{deps: deps.withDefaults()}
}

// Handle returns the badges newly appended to the ledger.
func (h *EvaluateBadgesHandler) Handle(ctx context.Context, userID shared.UserID) ([]streak.Badge, error) {
	if err := userID.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate_badges: validation failed: %w", err)
	}

	var earned []streak.Badge
	err := h.deps.execute(ctx, "evaluate_badges", userID, func(ctx context.Context, repos streak.Repositories) ([]shared.Event, error) {
		now := h.deps.Clock.Now()
		ledger, _, err := EnsureLedger(ctx, repos, userID, now)
		if err != nil {
			return nil, err
		}
		earned = streak.EvaluateBadges(ledger, now)
		if len(earned) == 0 {
			return nil, nil
		}
		if err := repos.Ledgers().Save(ctx, ledger); err != nil {
			return nil, err
		}
		return streak.BadgeEvents(userID, earned, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_badges: %w", err)
	}
	return earned, nil
}
